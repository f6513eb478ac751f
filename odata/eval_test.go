package odata

import "testing"

func TestEvalComparisonOnField(t *testing.T) {
	record := map[string]any{"title": "Alpha", "rating": float64(4)}
	n := Gt(Field("rating"), Int64(3))
	ok, err := Eval(n, record)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected rating > 3 to match")
	}
}

func TestEvalAndShortCircuitsOnFalseLeft(t *testing.T) {
	record := map[string]any{"rating": float64(1)}
	n := And(Gt(Field("rating"), Int64(3)), Eq(Field("missing"), String("x")))
	ok, err := Eval(n, record)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected and() with a false left operand to be false")
	}
}

func TestEvalStartsWith(t *testing.T) {
	record := map[string]any{"title": "Alphabet"}
	n, err := Call("startswith", Field("title"), String("Alpha"))
	if err != nil {
		t.Fatal(err)
	}
	ok, err := Eval(n, record)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected startswith match")
	}
}

func TestEvalDateTimeComparison(t *testing.T) {
	record := map[string]any{"updatedAt": "2026-02-01T00:00:00.000Z"}
	n := Gt(Field("updatedAt"), DateTime("2026-01-01T00:00:00.000Z"))
	ok, err := Eval(n, record)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected updatedAt > bound to match")
	}
}

func TestEvalNilFilterMatchesEverything(t *testing.T) {
	ok, err := Eval(nil, map[string]any{"x": 1})
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected a nil filter to match unconditionally")
	}
}

func TestEvalInList(t *testing.T) {
	record := map[string]any{"status": "open"}
	n := In(Field("status"), String("open"), String("pending"))
	ok, err := Eval(n, record)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected status to be in the list")
	}
}
