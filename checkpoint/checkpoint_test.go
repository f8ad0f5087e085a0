package checkpoint

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/op/go-logging"

	bolt "go.etcd.io/bbolt"
)

func init() {
	logging.SetLevel(logging.WARNING, "checkpoint")
}

func openDB(tst *testing.T) (*bolt.DB, func()) {
	dir, err := ioutil.TempDir("", "checkpoint")
	if err != nil {
		tst.Fatal(err)
	}
	db, err := bolt.Open(filepath.Join(dir, "test.db"), 0600, nil)
	if err != nil {
		tst.Fatal(err)
	}
	return db, func() {
		db.Close()
		os.RemoveAll(dir)
	}
}

func TestSaveLoad(tst *testing.T) {
	db, cleanup := openDB(tst)
	defer cleanup()

	io := NewCheckpointIO(db, []byte("mh"), 60)
	data, err := io.Load()
	if err != nil || data != nil {
		tst.Fatal("Empty database should have no checkpoint:", data, err)
	}
	if !io.Old() {
		tst.Error("Checkpoint which was never saved should be old")
	}

	saved := &CheckpointData{
		Heights:    []float64{0, 0, 0, 0.1, 0.25},
		Target:     3,
		Parameters: map[string]float64{"kappa": 2.5},
		Likelihood: -123.4,
		Iter:       1000,
	}
	if err := io.Save(saved); err != nil {
		tst.Fatal(err)
	}
	if io.Old() {
		tst.Error("Checkpoint was just saved")
	}

	data, err = io.Load()
	if err != nil {
		tst.Fatal(err)
	}
	if data == nil || data.Iter != 1000 || data.Target != 3 || data.Heights[4] != 0.25 ||
		data.Parameters["kappa"] != 2.5 || data.Likelihood != -123.4 {
		tst.Error("Wrong checkpoint:", data)
	}

	other := NewCheckpointIO(db, []byte("lbfgsb"), 60)
	if data, _ := other.Load(); data != nil {
		tst.Error("Checkpoints should be separated by key")
	}
}

func TestNilDB(tst *testing.T) {
	io := NewCheckpointIO(nil, []byte("mh"), 60)
	if err := io.Save(&CheckpointData{Heights: []float64{1}}); err != nil {
		tst.Error("Saving without database should be a no-op:", err)
	}
	if data, err := io.Load(); data != nil || err != nil {
		tst.Error("Loading without database should return nothing")
	}
}
