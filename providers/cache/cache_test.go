package cache

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/ZiangHu97/paper-sailor/providers/mock"
)

type countingEmbedder struct {
	inner interface {
		EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	}
	embedded []string
	fail     bool
}

func (c *countingEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if c.fail {
		return nil, errors.New("backend down")
	}
	c.embedded = append(c.embedded, texts...)
	return c.inner.EmbedTexts(ctx, texts)
}

func TestCacheServesRepeatsWithoutDelegate(t *testing.T) {
	counting := &countingEmbedder{inner: mock.NewEmbedder(8)}
	emb, err := New(counting, "test-model", 1<<20)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer emb.Close()
	ctx := context.Background()

	first, err := emb.EmbedTexts(ctx, []string{"alpha", "beta"})
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := emb.EmbedTexts(ctx, []string{"alpha", "gamma", "beta"})
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if !reflect.DeepEqual(first[0], second[0]) || !reflect.DeepEqual(first[1], second[2]) {
		t.Fatal("cached vectors differ from originals")
	}
	if got := len(counting.embedded); got != 3 {
		t.Fatalf("delegate embedded %d texts, want 3 (alpha, beta, gamma once each)", got)
	}
}

func TestDelegateFailurePropagates(t *testing.T) {
	counting := &countingEmbedder{inner: mock.NewEmbedder(8), fail: true}
	emb, err := New(counting, "test-model", 1<<20)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer emb.Close()

	if _, err := emb.EmbedTexts(context.Background(), []string{"alpha"}); err == nil {
		t.Fatal("want error from failing delegate")
	}
}
