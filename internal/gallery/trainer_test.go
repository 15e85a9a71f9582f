package gallery

import (
	"context"
	"errors"
	"image"
	"image/color"
	"path/filepath"
	"testing"
	"time"
)

type failingPersister struct {
	loadErr error
	saveErr error
	saved   int
}

func (p *failingPersister) Save(context.Context, *Gallery) error {
	p.saved++
	return p.saveErr
}

func (p *failingPersister) Load(context.Context) (*Gallery, error) {
	return nil, p.loadErr
}

func TestLoadOrTrainTrainsWhenNothingPersisted(t *testing.T) {
	root := t.TempDir()
	writePNG(t, filepath.Join(root, "alice", "a.png"), color.RGBA{R: 255, A: 255})

	persister := NewFilePersister(filepath.Join(t.TempDir(), "g.gob"))
	store := NewStore(nil)
	tr := NewTrainer(NewBuilder(&colorEmbedder{}), persister, store, root)

	g, err := tr.LoadOrTrain(context.Background())
	if err != nil {
		t.Fatalf("LoadOrTrain: %v", err)
	}
	if g.Len() != 1 || store.Current() != g {
		t.Fatalf("store not updated: %d entries", store.Current().Len())
	}

	// The next start loads instead of training.
	store2 := NewStore(nil)
	tr2 := NewTrainer(NewBuilder(&colorEmbedder{}), persister, store2, filepath.Join(root, "missing"))
	if _, err := tr2.LoadOrTrain(context.Background()); err != nil {
		t.Fatal(err)
	}
	if store2.Current().Len() != 1 {
		t.Errorf("loaded %d entries, want 1", store2.Current().Len())
	}
}

func TestRetrainKeepsGalleryWhenSaveFails(t *testing.T) {
	root := t.TempDir()
	writePNG(t, filepath.Join(root, "alice", "a.png"), color.RGBA{R: 255, A: 255})

	previous := sampleGallery()
	store := NewStore(previous)
	p := &failingPersister{saveErr: errors.New("disk full")}
	tr := NewTrainer(NewBuilder(&colorEmbedder{}), p, store, root)

	if _, err := tr.Retrain(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if store.Current() != previous {
		t.Error("gallery was swapped despite failed save")
	}
	if st := tr.Status(); st.LastError == "" || st.Training {
		t.Errorf("status = %+v", st)
	}
}

func TestLoadOrTrainPropagatesLoadErrors(t *testing.T) {
	p := &failingPersister{loadErr: errors.New("corrupt")}
	tr := NewTrainer(NewBuilder(&colorEmbedder{}), p, NewStore(nil), t.TempDir())

	if _, err := tr.LoadOrTrain(context.Background()); err == nil {
		t.Error("expected error")
	}
	if p.saved != 0 {
		t.Error("should not train after a load failure")
	}
}

// gatedEmbedder blocks every image until release is closed.
type gatedEmbedder struct {
	entered chan struct{}
	release chan struct{}
}

func (e *gatedEmbedder) EmbedFirst(img image.Image) ([]float32, bool, error) {
	select {
	case e.entered <- struct{}{}:
	default:
	}
	<-e.release
	return []float32{1, 0}, true, nil
}

func TestCloseWaitsForBackgroundRetrain(t *testing.T) {
	root := t.TempDir()
	writePNG(t, filepath.Join(root, "alice", "a.png"), color.RGBA{R: 255, A: 255})

	emb := &gatedEmbedder{entered: make(chan struct{}, 1), release: make(chan struct{})}
	store := NewStore(nil)
	tr := NewTrainer(NewBuilder(emb), NewFilePersister(filepath.Join(t.TempDir(), "g.gob")), store, root)

	if !tr.RetrainAsync(context.Background()) {
		t.Fatal("RetrainAsync refused work")
	}
	select {
	case <-emb.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("retrain never started")
	}

	closed := make(chan struct{})
	go func() {
		tr.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned while a retrain was embedding")
	case <-time.After(50 * time.Millisecond):
	}

	close(emb.release)
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return after the retrain finished")
	}
	if store.Current().Len() != 1 {
		t.Errorf("store holds %d entries, want 1", store.Current().Len())
	}

	if tr.RetrainAsync(context.Background()) {
		t.Error("RetrainAsync accepted work after Close")
	}
	if _, err := tr.Retrain(context.Background()); !errors.Is(err, ErrTrainerClosed) {
		t.Errorf("Retrain after Close err = %v", err)
	}
}
