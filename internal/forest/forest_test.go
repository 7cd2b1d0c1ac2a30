package forest

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func separable() ([][]float64, []int) {
	var X [][]float64
	var y []int
	for i := 0; i < 20; i++ {
		v := float64(i)
		X = append(X, []float64{v, float64(i % 3)})
		if i >= 10 {
			y = append(y, 1)
		} else {
			y = append(y, 0)
		}
	}
	return X, y
}

func TestFitSeparable(t *testing.T) {
	X, y := separable()
	cfg := DefaultConfig()
	cfg.Trees = 50
	f, err := Fit(X, y, cfg)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if len(f.Trees) != 50 {
		t.Fatalf("expected 50 trees, got %d", len(f.Trees))
	}

	lo, err := f.PredictProba([]float64{1, 1})
	if err != nil {
		t.Fatalf("PredictProba: %v", err)
	}
	hi, err := f.PredictProba([]float64{18, 1})
	if err != nil {
		t.Fatalf("PredictProba: %v", err)
	}
	if lo >= 0.5 {
		t.Errorf("expected low probability for negative region, got %f", lo)
	}
	if hi <= 0.5 {
		t.Errorf("expected high probability for positive region, got %f", hi)
	}
	if lo < 0 || hi > 1 {
		t.Errorf("probabilities out of range: %f %f", lo, hi)
	}
}

func TestFitDeterministic(t *testing.T) {
	X, y := separable()
	cfg := DefaultConfig()
	cfg.Trees = 10
	a, err := Fit(X, y, cfg)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Fit(X, y, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Error("expected identical forests for the same seed")
	}
}

func TestFitErrors(t *testing.T) {
	if _, err := Fit(nil, nil, DefaultConfig()); !errors.Is(err, ErrEmpty) {
		t.Errorf("expected ErrEmpty, got %v", err)
	}
	if _, err := Fit([][]float64{{1}, {2}}, []int{1, 1}, DefaultConfig()); !errors.Is(err, ErrSingleClass) {
		t.Errorf("expected ErrSingleClass, got %v", err)
	}
	if _, err := Fit([][]float64{{1, 2}, {2}}, []int{0, 1}, DefaultConfig()); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("expected ErrShapeMismatch, got %v", err)
	}
	if _, err := Fit([][]float64{{1}}, []int{0, 1}, DefaultConfig()); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("expected ErrShapeMismatch for label count, got %v", err)
	}
}

func TestPredictProbaShapeMismatch(t *testing.T) {
	X, y := separable()
	cfg := DefaultConfig()
	cfg.Trees = 3
	f, err := Fit(X, y, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.PredictProba([]float64{1, 2, 3}); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("expected ErrShapeMismatch, got %v", err)
	}
	var empty *Forest
	if _, err := empty.PredictProba([]float64{1}); !errors.Is(err, ErrNotFitted) {
		t.Errorf("expected ErrNotFitted, got %v", err)
	}
}

func TestForestSurvivesJSON(t *testing.T) {
	X, y := separable()
	cfg := DefaultConfig()
	cfg.Trees = 5
	f, err := Fit(X, y, cfg)
	if err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(f)
	if err != nil {
		t.Fatal(err)
	}
	var loaded Forest
	if err := json.Unmarshal(data, &loaded); err != nil {
		t.Fatal(err)
	}
	want, _ := f.PredictProbaBatch(X)
	got, err := loaded.PredictProbaBatch(X)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(want, got) {
		t.Errorf("predictions differ after reload: %v vs %v", want, got)
	}
}

func TestMaxDepthLimitsTree(t *testing.T) {
	X, y := separable()
	cfg := DefaultConfig()
	cfg.Trees = 4
	cfg.MaxDepth = 1
	f, err := Fit(X, y, cfg)
	if err != nil {
		t.Fatal(err)
	}
	for i, tree := range f.Trees {
		if len(tree.Nodes) > 3 {
			t.Errorf("tree %d: expected at most 3 nodes at depth 1, got %d", i, len(tree.Nodes))
		}
	}
}
