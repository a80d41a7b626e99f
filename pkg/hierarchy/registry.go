package hierarchy

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"github.com/tabulahq/reducer/pkg/filestore"
)

// RegistryFile is the top-level structure of the content registry YAML file.
type RegistryFile struct {
	APIVersion string          `yaml:"apiVersion"`
	Kind       string          `yaml:"kind"`
	Contents   []ContentConfig `yaml:"contents"`
}

// ContentConfig declares one content item and its hierarchy.
type ContentConfig struct {
	Name       string        `yaml:"name"`
	ClientID   string        `yaml:"clientId"`
	MasterPath string        `yaml:"masterPath"`
	Fields     []FieldConfig `yaml:"fields"`
}

// FieldConfig declares one dimension field and its legal values.
type FieldConfig struct {
	FieldName      string   `yaml:"fieldName"`
	DisplayName    string   `yaml:"displayName"`
	ValueDelimiter string   `yaml:"valueDelimiter"`
	StructureType  string   `yaml:"structureType"`
	Values         []string `yaml:"values"`
}

// LoadRegistry reads and validates the content registry YAML file.
func LoadRegistry(path string) (*RegistryFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry %s: %w", path, err)
	}

	var reg RegistryFile
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("parse registry %s: %w", path, err)
	}

	if reg.Kind != "" && reg.Kind != "ContentRegistry" {
		return nil, fmt.Errorf("registry %s: unexpected kind %q", path, reg.Kind)
	}
	for _, c := range reg.Contents {
		if c.Name == "" {
			return nil, fmt.Errorf("registry %s: content item with empty name", path)
		}
		if c.MasterPath == "" {
			return nil, fmt.Errorf("registry %s: content item %q has no masterPath", path, c.Name)
		}
		for _, f := range c.Fields {
			if f.FieldName == "" {
				return nil, fmt.Errorf("registry %s: content item %q has a field with empty fieldName", path, c.Name)
			}
			switch StructureType(f.StructureType) {
			case StructureFlat, StructureDelimited, "":
			default:
				return nil, fmt.Errorf("registry %s: field %q has unknown structureType %q", path, f.FieldName, f.StructureType)
			}
		}
	}
	return &reg, nil
}

// SyncResult summarizes what a registry sync changed.
type SyncResult struct {
	ItemsCreated  int
	ItemsUpdated  int
	FieldsCreated int
	ValuesCreated int
}

// Sync reconciles the registry file into the database. Items are matched by
// name, fields by (item, fieldName), values by (field, value). Existing
// fields and values are never removed; selection criteria may still
// reference them. The master checksum is recorded from the file store so a
// later replacement of the master file is detectable.
func (s *Store) Sync(reg *RegistryFile, files filestore.FileStore, logger *slog.Logger) (*SyncResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	res := &SyncResult{}

	for _, cc := range reg.Contents {
		item, err := s.GetItemByName(cc.Name)
		if err != nil {
			return nil, err
		}

		checksum := ""
		if ok, err := files.Exists(cc.MasterPath); err == nil && ok {
			if sum, err := files.Checksum(cc.MasterPath); err == nil {
				checksum = sum
			}
		}
		if checksum == "" {
			logger.Warn("master file missing at registry sync", "content", cc.Name, "masterPath", cc.MasterPath)
		}

		if item == nil {
			item = &ContentItem{
				ID:             uuid.New().String(),
				ClientID:       cc.ClientID,
				Name:           cc.Name,
				MasterPath:     cc.MasterPath,
				MasterChecksum: checksum,
			}
			if err := s.db.Create(item).Error; err != nil {
				return nil, fmt.Errorf("create content item %s: %w", cc.Name, err)
			}
			res.ItemsCreated++
		} else {
			updates := map[string]any{
				"client_id":   cc.ClientID,
				"master_path": cc.MasterPath,
			}
			if checksum != "" {
				updates["master_checksum"] = checksum
			}
			if err := s.db.Model(&ContentItem{}).Where("id = ?", item.ID).Updates(updates).Error; err != nil {
				return nil, fmt.Errorf("update content item %s: %w", cc.Name, err)
			}
			res.ItemsUpdated++
		}

		for _, fc := range cc.Fields {
			var field HierarchyField
			err := s.db.Where("content_item_id = ? AND field_name = ?", item.ID, fc.FieldName).
				First(&field).Error
			if err != nil && err != gorm.ErrRecordNotFound {
				return nil, fmt.Errorf("load field %s/%s: %w", cc.Name, fc.FieldName, err)
			}
			if err == gorm.ErrRecordNotFound {
				field = HierarchyField{
					ID:             uuid.New().String(),
					ContentItemID:  item.ID,
					FieldName:      fc.FieldName,
					DisplayName:    fc.DisplayName,
					ValueDelimiter: fc.ValueDelimiter,
					StructureType:  structureOrDefault(fc.StructureType),
				}
				if err := s.db.Create(&field).Error; err != nil {
					return nil, fmt.Errorf("create field %s/%s: %w", cc.Name, fc.FieldName, err)
				}
				res.FieldsCreated++
			}

			var existing []HierarchyFieldValue
			if err := s.db.Where("field_id = ?", field.ID).Find(&existing).Error; err != nil {
				return nil, fmt.Errorf("load values for %s/%s: %w", cc.Name, fc.FieldName, err)
			}
			known := make(map[string]bool, len(existing))
			for _, v := range existing {
				known[v.Value] = true
			}
			for _, val := range fc.Values {
				if known[val] {
					continue
				}
				rec := HierarchyFieldValue{ID: uuid.New().String(), FieldID: field.ID, Value: val}
				if err := s.db.Create(&rec).Error; err != nil {
					return nil, fmt.Errorf("create value %s/%s/%s: %w", cc.Name, fc.FieldName, val, err)
				}
				res.ValuesCreated++
			}
		}
	}

	logger.Info("registry sync complete",
		"itemsCreated", res.ItemsCreated,
		"itemsUpdated", res.ItemsUpdated,
		"fieldsCreated", res.FieldsCreated,
		"valuesCreated", res.ValuesCreated)
	return res, nil
}

func structureOrDefault(s string) StructureType {
	if s == "" {
		return StructureFlat
	}
	return StructureType(s)
}
