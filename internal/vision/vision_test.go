package vision

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"plenario/internal/runner"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	out  string
	err  error
	name string
	args []string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.name, f.args = name, args
	return []byte(f.out), f.err
}

func TestCommandClassifier(t *testing.T) {
	classes := []string{"asistencia", "otros", "votacion"}

	t.Run("known class", func(t *testing.T) {
		fr := &fakeRunner{out: " Votacion\n"}
		c := &CommandClassifier{Argv: []string{"python", "classify.py", "--weights", "w.pth"}, Classes: classes, Runner: fr}

		class, err := c.Classify(context.Background(), "img/a.jpg")
		require.NoError(t, err)
		assert.Equal(t, "votacion", class)
		assert.Equal(t, "python", fr.name)
		assert.Equal(t, []string{"classify.py", "--weights", "w.pth", "img/a.jpg"}, fr.args)
	})

	t.Run("unknown class is permanent", func(t *testing.T) {
		c := &CommandClassifier{Argv: []string{"clf"}, Classes: classes, Runner: &fakeRunner{out: "portada"}}
		_, err := c.Classify(context.Background(), "a.jpg")
		require.ErrorIs(t, err, ErrUnknownClass)
		assert.True(t, runner.IsPermanent(err))
	})

	t.Run("command failure is retryable", func(t *testing.T) {
		boom := errors.New("clf: exit status 1")
		c := &CommandClassifier{Argv: []string{"clf"}, Classes: classes, Runner: &fakeRunner{err: boom}}
		_, err := c.Classify(context.Background(), "a.jpg")
		require.ErrorIs(t, err, boom)
		assert.False(t, runner.IsPermanent(err))
	})

	t.Run("not configured", func(t *testing.T) {
		_, err := (&CommandClassifier{}).Classify(context.Background(), "a.jpg")
		assert.Error(t, err)
	})
}

func TestCommandDetector(t *testing.T) {
	fr := &fakeRunner{out: `[{"label":"Encabezado","confidence":0.91,"box":[10.7,20.2,300.9,80.5]},{"label":"columnas","confidence":0.5,"box":[0,90,300,400]}]`}
	d := &CommandDetector{Argv: []string{"detect"}, Runner: fr}

	dets, err := d.Detect(context.Background(), "a.jpg")
	require.NoError(t, err)
	require.Len(t, dets, 2)
	assert.Equal(t, "Encabezado", dets[0].Label)
	assert.InDelta(t, 0.91, dets[0].Confidence, 1e-9)

	_, err = (&CommandDetector{Argv: []string{"detect"}, Runner: &fakeRunner{out: "not json"}}).Detect(context.Background(), "a.jpg")
	require.Error(t, err)
	assert.True(t, runner.IsPermanent(err))
}

func TestSelectZones(t *testing.T) {
	bounds := image.Rect(0, 0, 400, 100)
	dets := []Detection{
		{Label: "columnas", Box: [4]float64{0, 0, 10, 10}},
		{Label: "Encabezado", Box: [4]float64{10.7, 20.2, 300.9, 70.5}},
		{Label: "encabezado", Box: [4]float64{0, 50, 500, 99}},
	}

	zones := SelectZones(dets, "encabezado", 0.04, bounds)
	require.Len(t, zones, 2)

	// Height 50 grows by int(50*0.04) = 2.
	assert.Equal(t, Zone{Index: 2, Label: "encabezado", Rect: image.Rect(10, 20, 300, 72)}, zones[0])
	// Clamped to the image bounds.
	assert.Equal(t, image.Rect(0, 50, 400, 100), zones[1].Rect)
	assert.Equal(t, 3, zones[1].Index)
}

func TestCropScaleAndSave(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 100, 50))
	src.SetGray(20, 10, color.Gray{Y: 200})

	crop := Crop(src, image.Rect(20, 10, 60, 30))
	assert.Equal(t, image.Rect(0, 0, 40, 20), crop.Bounds())
	assert.Equal(t, color.Gray{Y: 200}, crop.At(0, 0))

	half := Scale(crop, 50)
	assert.Equal(t, image.Rect(0, 0, 20, 10), half.Bounds())
	assert.Same(t, crop, Scale(crop, 100))

	path := filepath.Join(t.TempDir(), "zones", "x_page001_encabezado1_.jpg")
	require.NoError(t, SaveJPEG(path, crop, 90))

	loaded, err := LoadImage(path)
	require.NoError(t, err)
	assert.Equal(t, crop.Bounds(), loaded.Bounds())

	var buf bytes.Buffer
	require.NoError(t, EncodeJPEG(&buf, crop, 90))
	assert.NotZero(t, buf.Len())
}
