package hierarchy

import (
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	"gorm.io/gorm"
)

// Store provides database operations for hierarchy reference data.
type Store struct {
	db *gorm.DB
}

// NewStore creates a new hierarchy Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates or updates the hierarchy tables.
func (s *Store) AutoMigrate() error {
	if err := s.db.AutoMigrate(&ContentItem{}, &HierarchyField{}, &HierarchyFieldValue{}); err != nil {
		return fmt.Errorf("auto-migrate hierarchy tables: %w", err)
	}
	return nil
}

// GetItem retrieves a content item by ID. Returns nil, nil if not found.
func (s *Store) GetItem(contentItemID string) (*ContentItem, error) {
	var item ContentItem
	err := s.db.First(&item, "id = ?", contentItemID).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("get content item: %w", err)
	}
	return &item, nil
}

// GetItemByName retrieves a content item by its unique name.
// Returns nil, nil if not found.
func (s *Store) GetItemByName(name string) (*ContentItem, error) {
	var item ContentItem
	err := s.db.First(&item, "name = ?", name).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("get content item by name: %w", err)
	}
	return &item, nil
}

// ListItems returns all registered content items ordered by name.
func (s *Store) ListItems() ([]ContentItem, error) {
	var items []ContentItem
	if err := s.db.Order("name ASC").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("list content items: %w", err)
	}
	return items, nil
}

// UpdateMasterChecksum records a new checksum for the item's master file.
func (s *Store) UpdateMasterChecksum(contentItemID, checksum string) error {
	result := s.db.Model(&ContentItem{}).Where("id = ?", contentItemID).
		Update("master_checksum", checksum)
	if result.Error != nil {
		return fmt.Errorf("update master checksum: %w", result.Error)
	}
	return nil
}

// GetFields returns the fields of a content item with their values eagerly
// loaded, ordered by field name.
func (s *Store) GetFields(contentItemID string) ([]HierarchyField, map[string][]HierarchyFieldValue, error) {
	var fields []HierarchyField
	if err := s.db.Where("content_item_id = ?", contentItemID).
		Order("field_name ASC").Find(&fields).Error; err != nil {
		return nil, nil, fmt.Errorf("get hierarchy fields: %w", err)
	}
	if len(fields) == 0 {
		return fields, map[string][]HierarchyFieldValue{}, nil
	}

	fieldIDs := make([]string, len(fields))
	for i := range fields {
		fieldIDs[i] = fields[i].ID
	}

	var values []HierarchyFieldValue
	if err := s.db.Where("field_id IN ?", fieldIDs).
		Order("value ASC").Find(&values).Error; err != nil {
		return nil, nil, fmt.Errorf("get hierarchy values: %w", err)
	}

	byField := make(map[string][]HierarchyFieldValue, len(fields))
	for _, v := range values {
		byField[v.FieldID] = append(byField[v.FieldID], v)
	}
	return fields, byField, nil
}

// ValueIDSet returns the set of all value IDs belonging to a content item's
// fields. Used to validate that requested selections stay within the item.
func (s *Store) ValueIDSet(contentItemID string) (mapset.Set[string], error) {
	var ids []string
	err := s.db.Model(&HierarchyFieldValue{}).
		Joins("JOIN hierarchy_fields ON hierarchy_fields.id = hierarchy_field_values.field_id").
		Where("hierarchy_fields.content_item_id = ?", contentItemID).
		Pluck("hierarchy_field_values.id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("collect value ids: %w", err)
	}
	return mapset.NewSet(ids...), nil
}

// CriterionValue describes one selected value resolved against its field,
// in the shape the derivation engine consumes.
type CriterionValue struct {
	ValueID        string
	Value          string
	FieldName      string
	ValueDelimiter string
	StructureType  StructureType
}

// ResolveCriteria resolves value IDs into field-qualified criterion values.
// IDs that do not exist are silently dropped; callers validate membership
// before persisting criteria.
func (s *Store) ResolveCriteria(valueIDs []string) ([]CriterionValue, error) {
	if len(valueIDs) == 0 {
		return nil, nil
	}

	type row struct {
		ID             string
		Value          string
		FieldName      string
		ValueDelimiter string
		StructureType  StructureType
	}
	var rows []row
	err := s.db.Model(&HierarchyFieldValue{}).
		Select("hierarchy_field_values.id, hierarchy_field_values.value, hierarchy_fields.field_name, hierarchy_fields.value_delimiter, hierarchy_fields.structure_type").
		Joins("JOIN hierarchy_fields ON hierarchy_fields.id = hierarchy_field_values.field_id").
		Where("hierarchy_field_values.id IN ?", valueIDs).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("resolve criteria: %w", err)
	}

	out := make([]CriterionValue, len(rows))
	for i, r := range rows {
		out[i] = CriterionValue{
			ValueID:        r.ID,
			Value:          r.Value,
			FieldName:      r.FieldName,
			ValueDelimiter: r.ValueDelimiter,
			StructureType:  r.StructureType,
		}
	}
	return out, nil
}
