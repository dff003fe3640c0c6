package embedding

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/docquery/internal/domain"
)

// --- Mocks ---

type mockRemote struct {
	vectors [][]float32
	err     error
	calls   int
}

func (m *mockRemote) InferEmbeddings(_ context.Context, _ []string) ([][]float32, error) {
	m.calls++
	return m.vectors, m.err
}

type mockDirect struct {
	dims  int
	calls int
}

func (m *mockDirect) EmbedBatch(_ context.Context, texts []string) [][]float32 {
	m.calls++
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = make([]float32, m.dims)
	}
	return out
}

// --- Tests ---

func TestEmbedBatch_RemotePreferred(t *testing.T) {
	remote := &mockRemote{vectors: [][]float32{{0.1}, {0.2}}}
	direct := &mockDirect{dims: 3}
	p := NewProvider(remote, direct, zap.NewNop())

	vecs := p.EmbedBatch(context.Background(), []string{"a", "b"})

	if len(vecs) != 2 {
		t.Fatalf("expected 2 vectors, got %d", len(vecs))
	}
	if vecs[0][0] != 0.1 || vecs[1][0] != 0.2 {
		t.Errorf("vectors = %v, want the remote results", vecs)
	}
	if direct.calls != 0 {
		t.Error("direct path must not run when the remote path succeeds")
	}
}

func TestEmbedBatch_NilRemoteGoesDirect(t *testing.T) {
	direct := &mockDirect{dims: 2}
	p := NewProvider(nil, direct, zap.NewNop())

	vecs := p.EmbedBatch(context.Background(), []string{"a"})

	if len(vecs) != 1 || len(vecs[0]) != 2 {
		t.Fatalf("vectors = %v, want one direct 2-dim vector", vecs)
	}
	if direct.calls != 1 {
		t.Errorf("direct calls = %d, want 1", direct.calls)
	}
}

func TestEmbedBatch_RemoteErrorFallsBackWholeBatch(t *testing.T) {
	remote := &mockRemote{err: errors.New("inference exploded")}
	direct := &mockDirect{dims: 2}
	p := NewProvider(remote, direct, zap.NewNop())

	vecs := p.EmbedBatch(context.Background(), []string{"a", "b", "c"})

	if len(vecs) != 3 {
		t.Fatalf("expected 3 vectors, got %d", len(vecs))
	}
	for i, v := range vecs {
		if len(v) != 2 {
			t.Errorf("vector %d came from the wrong path: %v", i, v)
		}
	}
	if direct.calls != 1 {
		t.Errorf("direct calls = %d, want one whole-batch fallback", direct.calls)
	}
}

func TestEmbedBatch_PartialRemoteResultFallsBack(t *testing.T) {
	tests := []struct {
		name    string
		vectors [][]float32
	}{
		{"length mismatch", [][]float32{{0.1}}},
		{"empty vector inside", [][]float32{{0.1}, {}}},
		{"nil result", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			remote := &mockRemote{vectors: tt.vectors}
			direct := &mockDirect{dims: 2}
			p := NewProvider(remote, direct, zap.NewNop())

			vecs := p.EmbedBatch(context.Background(), []string{"a", "b"})

			if len(vecs) != 2 {
				t.Fatalf("expected 2 vectors, got %d", len(vecs))
			}
			if direct.calls != 1 {
				t.Errorf("direct calls = %d, want fallback for the whole batch", direct.calls)
			}
			for i, v := range vecs {
				if len(v) != 2 {
					t.Errorf("vector %d = %v, want a direct 2-dim vector", i, v)
				}
			}
		})
	}
}

func TestEmbedBatch_CapabilityUnavailableFallsBack(t *testing.T) {
	remote := &mockRemote{
		err: domain.NewProvisioningError("infer", domain.ErrCapabilityUnavailable),
	}
	direct := &mockDirect{dims: 2}
	p := NewProvider(remote, direct, zap.NewNop())

	vecs := p.EmbedBatch(context.Background(), []string{"a"})
	if len(vecs) != 1 || len(vecs[0]) != 2 {
		t.Fatalf("vectors = %v, want direct fallback", vecs)
	}
}

func TestEmbedBatch_EmptyInput(t *testing.T) {
	remote := &mockRemote{}
	direct := &mockDirect{dims: 2}
	p := NewProvider(remote, direct, zap.NewNop())

	if vecs := p.EmbedBatch(context.Background(), nil); len(vecs) != 0 {
		t.Errorf("vectors = %v, want none", vecs)
	}
	if remote.calls != 0 || direct.calls != 0 {
		t.Error("empty batch must not reach either path")
	}
}
