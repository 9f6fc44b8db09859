package models

import (
	"testing"
)

func TestNormalizeItems_Array(t *testing.T) {
	items := NormalizeItems(JSONRaw(`[{"a":1},{"b":2},{"c":3}]`))
	if len(items) != 3 {
		t.Errorf("NormalizeItems() len = %d, want 3", len(items))
	}
}

func TestNormalizeItems_SingleObject(t *testing.T) {
	items := NormalizeItems(JSONRaw(`{"numeroRequisicaoPagamento":555}`))
	if len(items) != 1 {
		t.Fatalf("NormalizeItems() len = %d, want 1", len(items))
	}
	if string(items[0]) != `{"numeroRequisicaoPagamento":555}` {
		t.Errorf("NormalizeItems() item = %s, want original object", items[0])
	}
}

func TestNormalizeItems_EmptyArray(t *testing.T) {
	items := NormalizeItems(JSONRaw(`[]`))
	if len(items) != 0 {
		t.Errorf("NormalizeItems() len = %d, want 0", len(items))
	}
}

func TestNormalizeItems_Invalid(t *testing.T) {
	if items := NormalizeItems(JSONRaw(`not json`)); items != nil {
		t.Errorf("NormalizeItems() = %v, want nil for invalid JSON", items)
	}
	if items := NormalizeItems(nil); items != nil {
		t.Errorf("NormalizeItems() = %v, want nil for empty payload", items)
	}
}
