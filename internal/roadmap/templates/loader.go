// Package templates loads roadmap template packs from YAML files and
// imports them into the template repository.
//
// Packs are authored by operators, so parsing is strict (unknown fields are
// rejected) and every definition is validated before anything is written.
package templates

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.yaml.in/yaml/v3"

	"roadmapd/internal/roadmap"
	"roadmapd/pkg/logx"
)

// Pack is the on-disk shape of a template pack file.
type Pack struct {
	Templates []TemplateDef `yaml:"templates" validate:"required,min=1,dive"`
}

type TemplateDef struct {
	ID     string     `yaml:"id" validate:"required"`
	Name   string     `yaml:"name" validate:"required"`
	Stages []StageDef `yaml:"stages" validate:"required,min=1,dive"`
}

type StageDef struct {
	ID         string    `yaml:"id"`
	Name       string    `yaml:"name" validate:"required"`
	OrderIndex *int      `yaml:"order_index"`
	Tasks      []TaskDef `yaml:"tasks" validate:"dive"`
}

type TaskDef struct {
	ID             string   `yaml:"id"`
	Title          string   `yaml:"title" validate:"required"`
	Description    string   `yaml:"description"`
	Tags           []string `yaml:"tags"`
	RequiredRole   string   `yaml:"required_role"`
	DurationDays   int      `yaml:"duration_days" validate:"gte=0"`
	EstimatedHours float64  `yaml:"estimated_hours" validate:"gte=0"`
	OrderIndex     *int     `yaml:"order_index"`
}

var packValidate = validator.New(validator.WithRequiredStructEnabled())

// Parse decodes and validates one pack file.
func Parse(data []byte) (Pack, error) {
	var pack Pack
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&pack); err != nil {
		return Pack{}, fmt.Errorf("decode pack: %w", err)
	}
	if err := packValidate.Struct(pack); err != nil {
		return Pack{}, fmt.Errorf("validate pack: %w", err)
	}
	if err := checkOrdering(pack); err != nil {
		return Pack{}, err
	}
	return pack, nil
}

// checkOrdering rejects duplicate order indexes, which would make waterfall
// sequencing and the level-1 cascade ambiguous.
func checkOrdering(pack Pack) error {
	for _, t := range pack.Templates {
		seenStage := map[int]string{}
		for i, st := range t.Stages {
			idx := orderOr(st.OrderIndex, i)
			if prev, dup := seenStage[idx]; dup {
				return fmt.Errorf("template %s: stages %q and %q share order %d: %w",
					t.ID, prev, st.Name, idx, roadmap.ErrConstraint)
			}
			seenStage[idx] = st.Name

			seenTask := map[int]string{}
			for j, task := range st.Tasks {
				tidx := orderOr(task.OrderIndex, j)
				if prev, dup := seenTask[tidx]; dup {
					return fmt.Errorf("template %s stage %q: tasks %q and %q share order %d: %w",
						t.ID, st.Name, prev, task.Title, tidx, roadmap.ErrConstraint)
				}
				seenTask[tidx] = task.Title
			}
		}
	}
	return nil
}

func orderOr(p *int, def int) int {
	if p != nil {
		return *p
	}
	return def
}

// Materialize converts a parsed pack into domain templates.
//
// Missing stage and task ids get deterministic derived ids, so re-importing
// the same pack upserts in place instead of multiplying rows.
func Materialize(pack Pack) []roadmap.Template {
	out := make([]roadmap.Template, 0, len(pack.Templates))
	for _, td := range pack.Templates {
		t := roadmap.Template{ID: td.ID, Name: td.Name}
		for i, sd := range td.Stages {
			stageID := sd.ID
			if stageID == "" {
				stageID = fmt.Sprintf("%s/stage-%d", td.ID, i)
			}
			st := roadmap.TemplateStage{
				ID:         stageID,
				TemplateID: td.ID,
				Name:       sd.Name,
				OrderIndex: orderOr(sd.OrderIndex, i),
			}
			for j, kd := range sd.Tasks {
				taskID := kd.ID
				if taskID == "" {
					taskID = fmt.Sprintf("%s/task-%d", stageID, j)
				}
				st.Tasks = append(st.Tasks, roadmap.TemplateTask{
					ID:             taskID,
					StageID:        stageID,
					Title:          kd.Title,
					Description:    kd.Description,
					Tags:           append([]string(nil), kd.Tags...),
					RequiredRole:   roadmap.Role(strings.TrimSpace(kd.RequiredRole)),
					DurationDays:   kd.DurationDays,
					EstimatedHours: kd.EstimatedHours,
					OrderIndex:     orderOr(kd.OrderIndex, j),
				})
			}
			t.Stages = append(t.Stages, st)
		}
		out = append(out, t)
	}
	return out
}

// Loader imports pack files into a template repository.
type Loader struct {
	imp roadmap.TemplateImporter
	log logx.Logger
}

func NewLoader(imp roadmap.TemplateImporter, log logx.Logger) *Loader {
	return &Loader{imp: imp, log: log}
}

// ImportFile parses one pack file and upserts its templates.
func (l *Loader) ImportFile(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read pack %s: %w", path, err)
	}
	pack, err := Parse(data)
	if err != nil {
		return 0, fmt.Errorf("pack %s: %w", path, err)
	}

	n := 0
	for _, t := range Materialize(pack) {
		if err := l.imp.UpsertTemplate(ctx, t); err != nil {
			return n, fmt.Errorf("import template %s: %w", t.ID, err)
		}
		n++
	}
	l.log.Info("template pack imported", logx.String("path", path), logx.Int("templates", n))
	return n, nil
}

// ImportDir imports every *.yaml / *.yml file under dir in name order.
// A missing directory imports nothing; templates are optional.
func (l *Loader) ImportDir(ctx context.Context, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			l.log.Debug("template dir absent", logx.String("dir", dir))
			return 0, nil
		}
		return 0, fmt.Errorf("read template dir %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	total := 0
	for _, f := range files {
		n, err := l.ImportFile(ctx, f)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
