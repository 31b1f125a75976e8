package rbtree

import "testing"

func TestInsertAndAscendLessOrEqual(t *testing.T) {
	tr := New()
	tr.Insert(10, "a")
	tr.Insert(20, "b")
	tr.Insert(30, "c")

	var got []string
	tr.AscendLessOrEqual(20, func(h *Handle) bool {
		got = append(got, h.Value().(string))
		return true
	})

	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("got %v, want [a b]", got)
	}
}

func TestRemove(t *testing.T) {
	tr := New()
	ha := tr.Insert(1, "a")
	tr.Insert(2, "b")

	if tr.Len() != 2 {
		t.Fatalf("expected len 2, got %d", tr.Len())
	}

	tr.Remove(ha)
	if tr.Len() != 1 {
		t.Errorf("expected len 1 after remove, got %d", tr.Len())
	}

	var got []string
	tr.AscendFrom(0, func(h *Handle) bool {
		got = append(got, h.Value().(string))
		return true
	})
	if len(got) != 1 || got[0] != "b" {
		t.Errorf("got %v, want [b]", got)
	}
}

func TestEqualKeysCoexist(t *testing.T) {
	tr := New()
	tr.Insert(5, "first")
	tr.Insert(5, "second")
	tr.Insert(5, "third")

	var got []string
	tr.ScanKey(5, func(h *Handle) bool {
		got = append(got, h.Value().(string))
		return true
	})

	if len(got) != 3 {
		t.Fatalf("expected 3 entries sharing key 5, got %d", len(got))
	}
	if got[0] != "first" || got[1] != "second" || got[2] != "third" {
		t.Errorf("expected insertion order, got %v", got)
	}
}

func TestScanKeyStopsAtDifferentKey(t *testing.T) {
	tr := New()
	tr.Insert(5, "a")
	tr.Insert(6, "b")

	var got []string
	tr.ScanKey(5, func(h *Handle) bool {
		got = append(got, h.Value().(string))
		return true
	})

	if len(got) != 1 || got[0] != "a" {
		t.Errorf("got %v, want [a]", got)
	}
}

func TestAscendFromEmptyTree(t *testing.T) {
	tr := New()
	visited := false
	tr.AscendFrom(0, func(h *Handle) bool {
		visited = true
		return true
	})
	if visited {
		t.Error("expected no entries visited on an empty tree")
	}
}
