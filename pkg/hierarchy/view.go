package hierarchy

import (
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/tabulahq/reducer/pkg/fault"
)

// View is the API-facing shape of a content item's hierarchy.
type View struct {
	ContentItemID string      `json:"contentItemId"`
	Fields        []FieldView `json:"fields"`
}

// FieldView is one dimension with its values.
type FieldView struct {
	FieldID        string      `json:"fieldId"`
	FieldName      string      `json:"fieldName"`
	DisplayName    string      `json:"displayName,omitempty"`
	ValueDelimiter string      `json:"valueDelimiter,omitempty"`
	StructureType  string      `json:"structureType"`
	Values         []ValueView `json:"values"`
}

// ValueView is one legal value. Selected is populated only on selection views.
type ValueView struct {
	ValueID  string `json:"valueId"`
	Value    string `json:"value"`
	Selected bool   `json:"selected"`
}

// Service answers hierarchy read queries. All operations are side-effect free.
type Service struct {
	store *Store
}

// NewService creates a hierarchy read service.
func NewService(store *Store) *Service {
	return &Service{store: store}
}

// GetHierarchy returns the dimension fields and values of a content item.
func (s *Service) GetHierarchy(contentItemID string) (*View, error) {
	item, err := s.store.GetItem(contentItemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, fault.New(fault.CodeNotFound, "content item %s not found", contentItemID)
	}

	fields, valuesByField, err := s.store.GetFields(contentItemID)
	if err != nil {
		return nil, err
	}

	view := &View{ContentItemID: contentItemID, Fields: make([]FieldView, len(fields))}
	for i, f := range fields {
		fv := FieldView{
			FieldID:        f.ID,
			FieldName:      f.FieldName,
			DisplayName:    f.DisplayName,
			ValueDelimiter: f.ValueDelimiter,
			StructureType:  string(f.StructureType),
		}
		for _, v := range valuesByField[f.ID] {
			fv.Values = append(fv.Values, ValueView{ValueID: v.ID, Value: v.Value})
		}
		view.Fields[i] = fv
	}
	return view, nil
}

// SelectionView returns the hierarchy shaped with a selected flag per value.
// The add/remove lists are applied as an unpersisted diff on top of the
// current selection, so a proposed change can be previewed before commit.
func (s *Service) SelectionView(contentItemID string, selected IDList, add, remove []string) (*View, error) {
	view, err := s.GetHierarchy(contentItemID)
	if err != nil {
		return nil, err
	}

	effective := mapset.NewSet(selected...)
	for _, id := range add {
		effective.Add(id)
	}
	for _, id := range remove {
		effective.Remove(id)
	}

	for fi := range view.Fields {
		for vi := range view.Fields[fi].Values {
			view.Fields[fi].Values[vi].Selected = effective.Contains(view.Fields[fi].Values[vi].ValueID)
		}
	}
	return view, nil
}
