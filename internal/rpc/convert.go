package rpc

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"
)

// #region convert
// Values cross the wire as google.protobuf.Struct built from the types' JSON
// form. Integers survive exactly up to 2^53.

func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %T: %w", v, err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode %T: %w", v, err)
	}
	return structpb.NewStruct(m)
}

func fromStruct(s *structpb.Struct, v any) error {
	b, err := json.Marshal(s.AsMap())
	if err != nil {
		return fmt.Errorf("marshal struct: %w", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	return nil
}

func toList(v any) (*structpb.ListValue, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %T: %w", v, err)
	}
	var items []any
	if err := json.Unmarshal(b, &items); err != nil {
		return nil, fmt.Errorf("decode %T: %w", v, err)
	}
	return structpb.NewList(items)
}

func fromList(l *structpb.ListValue, v any) error {
	b, err := json.Marshal(l.AsSlice())
	if err != nil {
		return fmt.Errorf("marshal list: %w", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	return nil
}

// #endregion convert
