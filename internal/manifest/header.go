package manifest

import (
	"path/filepath"
	"regexp"
	"strings"
)

// Header is one header crop awaiting OCR.
type Header struct {
	// FileName is the crop image name, e.g. <doc>_page001_encabezado1_.jpg.
	FileName string `csv:"file_name" validate:"required"`
	// JSONName is the OCR output name, e.g. <doc>_page001_.json.
	JSONName  string `csv:"json_name" validate:"required,endswith=.json"`
	ImagePath string `csv:"image_path" validate:"required"`
}

func (h Header) Key() string { return h.FileName }

var cropSuffix = regexp.MustCompile(`_encabezado\d+_`)

// HeaderFor builds the manifest entry for a crop image path.
func HeaderFor(imagePath string) Header {
	name := filepath.Base(imagePath)
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	return Header{
		FileName:  name,
		JSONName:  cropSuffix.ReplaceAllString(stem, "_") + ".json",
		ImagePath: imagePath,
	}
}
