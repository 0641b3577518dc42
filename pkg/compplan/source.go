package compplan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"github.com/angelmondragon/netcomp-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/netcomp-backend/pkg/errors"
)

// Source resolves the plan in force for a computation.
type Source interface {
	Current(ctx context.Context) (*Plan, error)
}

// Parse decodes a plan document. YAML is a superset of JSON, so both formats
// are accepted.
func Parse(data []byte) (*Plan, error) {
	return decode(yaml.Unmarshal, data)
}

var fileDecoders = map[string]func([]byte, any) error{
	".json": json.Unmarshal,
	".yaml": yaml.Unmarshal,
	".yml":  yaml.Unmarshal,
	".toml": toml.Unmarshal,
}

// LoadFile reads and validates a plan from a JSON, YAML or TOML file, chosen
// by extension.
func LoadFile(path string) (*Plan, error) {
	ext := strings.ToLower(filepath.Ext(path))
	unmarshal, ok := fileDecoders[ext]
	if !ok {
		return nil, fmt.Errorf("unsupported plan file extension %q", ext)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan file: %w", err)
	}
	return decode(unmarshal, data)
}

func decode(unmarshal func([]byte, any) error, data []byte) (*Plan, error) {
	var plan Plan
	if err := unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return &plan, nil
}

// FileSource serves a plan file, re-read on every call so edits apply to the
// next computation.
type FileSource struct {
	path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (s *FileSource) Current(context.Context) (*Plan, error) {
	plan, err := LoadFile(s.path)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeConfigurationInvalid, err, "load compensation plan file")
	}
	return plan, nil
}

// Repository persists plan documents in compensation_plans.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Current returns the single active plan.
func (r *Repository) Current(ctx context.Context) (*Plan, error) {
	var row models.CompensationPlan
	err := r.db.WithContext(ctx).
		Where("active = ?", true).
		Order("version DESC").
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeConfigurationInvalid, "no active compensation plan")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load compensation plan")
	}
	var plan Plan
	if err := json.Unmarshal(row.Document, &plan); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeConfigurationInvalid, err, "decode compensation plan")
	}
	if plan.Version == 0 {
		plan.Version = row.Version
	}
	if err := plan.Validate(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeConfigurationInvalid, err, "invalid compensation plan")
	}
	return &plan, nil
}

// Publish stores plan as a new version and makes it the only active one.
func (r *Repository) Publish(ctx context.Context, plan *Plan) error {
	if err := plan.Validate(); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid compensation plan")
	}
	doc, err := json.Marshal(plan)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.CompensationPlan{}).
			Where("active = ?", true).
			Update("active", false).Error; err != nil {
			return err
		}
		row := models.CompensationPlan{
			ID:       uuid.New(),
			Version:  plan.Version,
			Name:     plan.Name,
			Document: doc,
			Active:   true,
		}
		return tx.Create(&row).Error
	})
}
