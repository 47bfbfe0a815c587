package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

type Config struct {
	// MAINTAINER NOTE: If you add/change/remove config fields, keep these in sync:
	// - CLI flags in internal/cli/run.go (runFlagKeys)
	// - the sample configuration in plenario.example.yaml
	Paths     Paths     `mapstructure:"paths"`
	Scrape    Scrape    `mapstructure:"scrape"`
	Download  Download  `mapstructure:"download"`
	Rasterize Rasterize `mapstructure:"rasterize"`
	Classify  Classify  `mapstructure:"classify"`
	Zones     Zones     `mapstructure:"zones"`
	OCR       OCR       `mapstructure:"ocr"`
	Store     Store     `mapstructure:"store"`
	Publish   Publish   `mapstructure:"publish"`
	Serve     Serve     `mapstructure:"serve"`
	Output    Output    `mapstructure:"output"`
	Runtime   Runtime   `mapstructure:"runtime"`
}

// Paths is the on-disk layout shared by every stage. Each stage reads the
// previous stage's output from here and writes its own.
type Paths struct {
	// TableHTML is the saved session index page (input of scrape).
	TableHTML string `mapstructure:"table_html" validate:"required"`

	// HistoryCSV accumulates every document ever scraped.
	HistoryCSV string `mapstructure:"history_csv" validate:"required"`

	// ExcludedCSV lists documents that must never be downloaded again.
	ExcludedCSV string `mapstructure:"excluded_csv" validate:"required"`

	// DownloadCSV is the manifest consumed by the download stage.
	DownloadCSV string `mapstructure:"download_csv" validate:"required"`

	PDFDir            string `mapstructure:"pdf_dir" validate:"required"`
	ImagesDir         string `mapstructure:"images_dir" validate:"required"`
	ClassificationDir string `mapstructure:"classification_dir" validate:"required"`
	ZonesDir          string `mapstructure:"zones_dir" validate:"required"`

	// HeadersCSV is the OCR manifest (file_name, json_name, image_path).
	HeadersCSV string `mapstructure:"headers_csv" validate:"required"`

	// OCRDir holds one JSON per OCR'd header crop.
	OCRDir string `mapstructure:"ocr_dir" validate:"required"`

	// DocumentsDir holds one JSON per document, pages grouped.
	DocumentsDir string `mapstructure:"documents_dir" validate:"required"`

	// RecordsJSON is the unified record list served to the site.
	RecordsJSON string `mapstructure:"records_json" validate:"required"`

	// ErrorsCSV lists records whose date/time could not be normalized.
	ErrorsCSV string `mapstructure:"errors_csv" validate:"required"`

	// PublicDir is the static site root (see serve).
	PublicDir string `mapstructure:"public_dir" validate:"required"`
}

// Retry is the worker pool policy of a batch stage.
type Retry struct {
	// Workers bounds concurrent attempts. Must be >= 1.
	Workers int `mapstructure:"workers" validate:"gte=1"`

	// MaxRetries is the maximum number of attempts per item (including the first).
	MaxRetries int `mapstructure:"max_retries" validate:"gte=1"`

	// BaseDelay is the wait before the first retry; retry k waits BaseDelay*2^(k-1).
	BaseDelay time.Duration `mapstructure:"base_delay" validate:"gte=0s"`
}

type Scrape struct {
	// BaseURL is prefixed to the path extracted from each openWindow('...') link.
	BaseURL string `mapstructure:"base_url" validate:"required,url"`
}

type Download struct {
	Retry `mapstructure:",squash"`

	// Timeout bounds a single HTTP request.
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0s"`

	UserAgent string `mapstructure:"user_agent"`

	// InsecureSkipVerify disables TLS certificate checks. The archive host has
	// served broken chains in the past.
	InsecureSkipVerify bool `mapstructure:"insecure_skip_verify"`
}

type Rasterize struct {
	Retry `mapstructure:",squash"`

	// Command is the pdftoppm executable.
	Command     string `mapstructure:"command" validate:"required"`
	DPI         int    `mapstructure:"dpi" validate:"gte=50,lte=1200"`
	JPEGQuality int    `mapstructure:"jpeg_quality" validate:"gte=1,lte=100"`
	Grayscale   bool   `mapstructure:"grayscale"`
}

type Classify struct {
	Retry `mapstructure:",squash"`

	// Command runs the image classifier. The image path is appended as the last
	// argument; the command prints one of Classes on stdout.
	Command []string `mapstructure:"command"`

	Classes []string `mapstructure:"classes" validate:"min=1,dive,required"`

	// Target is the class whose pages continue to the zones stage.
	Target string `mapstructure:"target" validate:"required"`
}

type Zones struct {
	Retry `mapstructure:",squash"`

	// Command runs the region detector. The image path is appended as the last
	// argument; the command prints a JSON array of detections on stdout.
	Command []string `mapstructure:"command"`

	// Label selects detections whose label contains this text (case-insensitive).
	Label string `mapstructure:"label" validate:"required"`

	// MarginBottom extends each kept box downwards by this fraction of its height.
	MarginBottom float64 `mapstructure:"margin_bottom" validate:"gte=0,lte=1"`
}

type OCR struct {
	Retry `mapstructure:",squash"`

	// Engine selects the recognizer: gemini or tesseract.
	Engine string `mapstructure:"engine" validate:"oneof=gemini tesseract"`

	Model string `mapstructure:"model"`

	// APIKey authenticates to the hosted model. Falls back to GEMINI_API_KEY.
	APIKey string `mapstructure:"api_key"`

	MaxTokens int `mapstructure:"max_tokens" validate:"gte=1"`

	// ResizePercent scales the crop before recognition (100 = original size).
	ResizePercent int `mapstructure:"resize_percent" validate:"gte=1,lte=100"`

	Prompt string `mapstructure:"prompt" validate:"required"`

	// SystemPrompt is sent as the model's system instruction when set.
	SystemPrompt string `mapstructure:"system_prompt"`

	Pricing OCRPricing `mapstructure:"pricing"`

	// Languages are the Tesseract language packs.
	Languages []string `mapstructure:"languages"`

	// Timeout bounds a single recognition call.
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0s"`
}

// OCRPricing is the model price in USD per 1000 tokens, used to estimate the
// cost of each recognition. Zero prices record no cost.
type OCRPricing struct {
	InputPer1K  float64 `mapstructure:"input_per_1k" validate:"gte=0"`
	OutputPer1K float64 `mapstructure:"output_per_1k" validate:"gte=0"`
}

type Store struct {
	SQLitePath string `mapstructure:"sqlite_path" validate:"required"`

	// PostgresURL enables the Postgres export when set.
	PostgresURL string `mapstructure:"postgres_url" validate:"omitempty,url"`
}

type Publish struct {
	Retry `mapstructure:",squash"`

	// Repo is the site repository as OWNER/REPO.
	Repo   string `mapstructure:"repo"`
	Branch string `mapstructure:"branch"`

	// Dir is the directory inside the repository that receives the artifacts.
	Dir     string `mapstructure:"dir" validate:"required"`
	Message string `mapstructure:"message" validate:"required"`

	// Token overrides GITHUB_TOKEN / gh auth.
	Token string `mapstructure:"token"`
}

type Serve struct {
	Addr string `mapstructure:"addr" validate:"required"`
}

type Output struct {
	// ConsoleFormat controls the human-facing console sink format (see --console-format).
	// Allowed values: text, json, ndjson.
	ConsoleFormat string `mapstructure:"console_format"`

	// Report writes a Markdown report to this path (see --report).
	// A .html extension renders the report to HTML instead.
	Report string `mapstructure:"report"`

	// Out writes structured output to this path (see --out).
	Out string `mapstructure:"out"`

	// OutFormat selects the format for --out (see --out-format).
	// Allowed values: json, ndjson. If empty, it is inferred from the --out file extension.
	OutFormat string `mapstructure:"out_format"`

	// Emit writes an additional structured event stream to stdout (see --emit).
	// Allowed values: json, ndjson.
	Emit []string `mapstructure:"emit"`

	// NoConsole suppresses the console sink (see --no-console).
	NoConsole bool `mapstructure:"no_console"`
}

type Runtime struct {
	// Timeout bounds the whole run (see --timeout). Zero means no deadline.
	Timeout time.Duration `mapstructure:"timeout" validate:"gte=0s"`

	// Verbose enables debug logging and per-attempt console lines.
	Verbose bool `mapstructure:"verbose"`

	LogLevel  string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string `mapstructure:"log_format" validate:"oneof=text json"`
}

const DefaultOCRPrompt = "EN BASE AL TEXTO DE LA IMAGEN DEVUELVE ÚNICAMENTE UN JSON CON LAS LLAVES: " +
	"'tipo' (ASISTENCIA O VOTACIÓN), 'fecha', 'hora', 'asunto'; SI ALGÚN VALOR NO SE IDENTIFICA PON 'null'; " +
	"TODO EL CONTENIDO DEBE IR EN MAYÚSCULAS; NO AGREGUES COMENTARIOS NI TEXTO ADICIONAL."

func New() *Config {
	cpus := runtime.NumCPU()
	return &Config{
		Paths: Paths{
			TableHTML:         filepath.Join("data", "Table.html"),
			HistoryCSV:        filepath.Join("data", "documentos_historico.csv"),
			ExcludedCSV:       filepath.Join("data", "documentos_excluidos.csv"),
			DownloadCSV:       filepath.Join("data", "documentos_scraper.csv"),
			PDFDir:            filepath.Join("data", "pdfs"),
			ImagesDir:         filepath.Join("data", "images"),
			ClassificationDir: filepath.Join("data", "classification"),
			ZonesDir:          filepath.Join("data", "zones"),
			HeadersCSV:        filepath.Join("data", "encabezados.csv"),
			OCRDir:            filepath.Join("data", "api_outputs"),
			DocumentsDir:      filepath.Join("data", "jsons"),
			RecordsJSON:       filepath.Join("public", "db", "encabezados_unificados.json"),
			ErrorsCSV:         filepath.Join("data", "errores.csv"),
			PublicDir:         "public",
		},
		Scrape: Scrape{
			BaseURL: "https://www2.congreso.gob.pe/Sicr/RelatAgenda/PlenoComiPerm20112016.nsf/",
		},
		Download: Download{
			Retry:     Retry{Workers: 5, MaxRetries: 5, BaseDelay: 2 * time.Second},
			Timeout:   200 * time.Second,
			UserAgent: "plenario",
		},
		Rasterize: Rasterize{
			Retry:       Retry{Workers: cpus, MaxRetries: 1},
			Command:     "pdftoppm",
			DPI:         300,
			JPEGQuality: 90,
			Grayscale:   true,
		},
		Classify: Classify{
			Retry:   Retry{Workers: cpus, MaxRetries: 1},
			Classes: []string{"asistencia", "otros", "votacion"},
			Target:  "votacion",
		},
		Zones: Zones{
			Retry:        Retry{Workers: cpus, MaxRetries: 1},
			Label:        "encabezado",
			MarginBottom: 0.04,
		},
		OCR: OCR{
			Retry:         Retry{Workers: 16, MaxRetries: 3, BaseDelay: 5 * time.Second},
			Engine:        "gemini",
			Model:         "gemini-2.0-flash",
			MaxTokens:     2500,
			ResizePercent: 100,
			Prompt:        DefaultOCRPrompt,
			Pricing:       OCRPricing{InputPer1K: 0.0001, OutputPer1K: 0.0004},
			Languages:     []string{"spa"},
			Timeout:       2 * time.Minute,
		},
		Store: Store{
			SQLitePath: filepath.Join("public", "db", "encabezados.sqlite"),
		},
		Publish: Publish{
			Retry:   Retry{Workers: 1, MaxRetries: 3, BaseDelay: 2 * time.Second},
			Branch:  "main",
			Dir:     "public/db",
			Message: "Update plenary session records",
		},
		Serve: Serve{
			Addr: ":8080",
		},
		Output: Output{
			ConsoleFormat: "text",
		},
		Runtime: Runtime{
			LogLevel:  "info",
			LogFormat: "text",
		},
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their configuration key rather than the Go field name.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("mapstructure"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (c *Config) Validate() error {
	// Normalize comma-delimited list inputs.
	c.Output.Emit = splitCommaList(c.Output.Emit)
	c.Classify.Classes = splitCommaList(c.Classify.Classes)
	c.OCR.Languages = splitCommaList(c.OCR.Languages)

	c.OCR.Engine = normalizeEnumValue(c.OCR.Engine)
	c.Runtime.LogLevel = normalizeEnumValue(c.Runtime.LogLevel)
	c.Runtime.LogFormat = normalizeEnumValue(c.Runtime.LogFormat)
	c.Classify.Target = normalizeEnumValue(c.Classify.Target)
	for i, class := range c.Classify.Classes {
		c.Classify.Classes[i] = normalizeEnumValue(class)
	}

	// Output validation
	c.Output.ConsoleFormat = normalizeEnumValue(c.Output.ConsoleFormat)
	if c.Output.ConsoleFormat == "" {
		return errors.New("--console-format must be one of: text, json, ndjson")
	}
	if c.Output.ConsoleFormat != "text" && c.Output.ConsoleFormat != "json" && c.Output.ConsoleFormat != "ndjson" {
		return fmt.Errorf("unsupported --console-format: %s (must be one of: text, json, ndjson)", c.Output.ConsoleFormat)
	}

	for i, emit := range c.Output.Emit {
		v := normalizeEnumValue(emit)
		if v != "json" && v != "ndjson" {
			return fmt.Errorf("unsupported --emit value: %s (must be one of: json, ndjson)", v)
		}
		c.Output.Emit[i] = v
	}

	if c.Output.Out != "" {
		c.Output.OutFormat = normalizeEnumValue(c.Output.OutFormat)
		if c.Output.OutFormat == "" {
			ext := strings.ToLower(filepath.Ext(c.Output.Out))
			switch ext {
			case ".json":
				c.Output.OutFormat = "json"
			case ".ndjson", ".jsonl":
				c.Output.OutFormat = "ndjson"
			default:
				if ext == "" {
					return errors.New("cannot infer output format from file extension (missing extension); use --out-format")
				}
				return fmt.Errorf("cannot infer output format from file extension %q; use --out-format", ext)
			}
		} else if c.Output.OutFormat != "json" && c.Output.OutFormat != "ndjson" {
			return fmt.Errorf("unsupported output format: %s", c.Output.OutFormat)
		}
	}

	if c.Publish.Repo != "" {
		owner, name, ok := strings.Cut(strings.TrimSpace(c.Publish.Repo), "/")
		if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
			return fmt.Errorf("invalid publish repo %q: expected OWNER/REPO", c.Publish.Repo)
		}
	}

	if !containsString(c.Classify.Classes, c.Classify.Target) {
		return fmt.Errorf("classify target %q is not one of the classes %v", c.Classify.Target, c.Classify.Classes)
	}

	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}
	return nil
}

// formatValidationError turns validator output into messages naming the
// configuration key (e.g. "ocr.max_retries must be >= 1").
func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describeFieldError(fe))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}

func describeFieldError(fe validator.FieldError) string {
	key := configKey(fe.Namespace())
	switch fe.Tag() {
	case "required":
		return key + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", key, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "gte":
		return fmt.Sprintf("%s must be >= %s", key, fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be > %s", key, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be <= %s", key, fe.Param())
	case "min":
		return fmt.Sprintf("%s must have at least %s entries", key, fe.Param())
	case "url":
		return key + " must be a valid URL"
	default:
		return fmt.Sprintf("%s failed %q validation", key, fe.Tag())
	}
}

// configKey converts a validator namespace like "Config.ocr.Retry.max_retries"
// to the configuration key "ocr.max_retries".
func configKey(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 0 && parts[0] == "Config" {
		parts = parts[1:]
	}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "Retry" {
			continue
		}
		out = append(out, p)
	}
	return strings.Join(out, ".")
}

func normalizeEnumValue(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func containsString(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}

func splitCommaList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			p := strings.TrimSpace(part)
			if p == "" {
				continue
			}
			out = append(out, p)
		}
	}
	return out
}
