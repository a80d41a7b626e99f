// Package hierarchy holds the read-mostly reference data of the reduction
// pipeline: content items, their dimension fields, and the legal values of
// each field. Selection criteria reference values by ID, never by string.
package hierarchy

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// StructureType describes how a field's cell values relate to its hierarchy.
type StructureType string

const (
	// StructureFlat fields hold a single value per cell.
	StructureFlat StructureType = "flat"
	// StructureDelimited fields hold a delimiter-separated path per cell
	// (e.g. "EU|DE|Berlin"); a cell matches when any path segment matches.
	StructureDelimited StructureType = "delimited"
)

// ContentItem is the GORM model for a hosted master document.
type ContentItem struct {
	ID             string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	ClientID       string    `gorm:"column:client_id;index:idx_content_client"`
	Name           string    `gorm:"column:name;uniqueIndex:idx_content_name;not null"`
	MasterPath     string    `gorm:"column:master_path;not null"`
	MasterChecksum string    `gorm:"column:master_checksum;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName returns the GORM table name.
func (ContentItem) TableName() string { return "content_items" }

// HierarchyField is the GORM model for one dimension of a content item.
// Fields are immutable once the content item is live.
type HierarchyField struct {
	ID             string        `gorm:"primaryKey;column:id;type:varchar(36)"`
	ContentItemID  string        `gorm:"column:content_item_id;index:idx_field_content;not null"`
	FieldName      string        `gorm:"column:field_name;not null"`
	DisplayName    string        `gorm:"column:display_name"`
	ValueDelimiter string        `gorm:"column:value_delimiter"`
	StructureType  StructureType `gorm:"column:structure_type;not null;default:flat"`
	CreatedAt      time.Time     `gorm:"column:created_at;autoCreateTime"`
}

// TableName returns the GORM table name.
func (HierarchyField) TableName() string { return "hierarchy_fields" }

// HierarchyFieldValue is the GORM model for one legal value of a field.
type HierarchyFieldValue struct {
	ID        string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	FieldID   string    `gorm:"column:field_id;index:idx_value_field;not null"`
	Value     string    `gorm:"column:value;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName returns the GORM table name.
func (HierarchyFieldValue) TableName() string { return "hierarchy_field_values" }

// IDList is a JSON-encoded list of IDs stored in a text column.
type IDList []string

// Scan implements the sql.Scanner interface for IDList.
func (l *IDList) Scan(value any) error {
	if value == nil {
		*l = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case string:
		bytes = []byte(v)
	case []byte:
		bytes = v
	default:
		return fmt.Errorf("unsupported type for IDList: %T", value)
	}
	if len(bytes) == 0 {
		*l = nil
		return nil
	}
	return json.Unmarshal(bytes, l)
}

// Value implements the driver.Valuer interface for IDList.
func (l IDList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
