package turn

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
	ort "github.com/yalue/onnxruntime_go"
)

const (
	modelFileRel     = "model_q8.onnx"
	tokenizerFileRel = "tokenizer.json"
	languagesFileRel = "languages.json"

	// maxContextTokens bounds inference latency; older tokens are dropped.
	maxContextTokens = 128
)

// ONNXDetector runs a quantized end-of-turn classifier. The model consumes
// the tokenized conversation tail and emits a single end-of-turn logit.
// Session, tokenizer, and thresholds load lazily on first use.
type ONNXDetector struct {
	modelDir string

	sessionOnce sync.Once
	session     *ort.DynamicAdvancedSession
	sessionErr  error

	tokOnce sync.Once
	tok     *tokenizer.Tokenizer
	tokErr  error

	langOnce  sync.Once
	languages map[string]float64
	langErr   error
}

// NewONNXDetector creates a detector backed by the model files in modelDir
// (model_q8.onnx, tokenizer.json, languages.json).
func NewONNXDetector(modelDir string) (*ONNXDetector, error) {
	if modelDir == "" {
		return nil, fmt.Errorf("model directory is required")
	}
	if _, err := os.Stat(modelDir); err != nil {
		return nil, fmt.Errorf("model directory not accessible: %w", err)
	}
	return &ONNXDetector{modelDir: modelDir}, nil
}

// UnlikelyThreshold returns the tuned threshold for a language.
func (d *ONNXDetector) UnlikelyThreshold(language string) (float64, error) {
	if err := d.loadLanguages(); err != nil {
		return 0, err
	}
	threshold, ok := d.languages[normalizeLanguage(language)]
	if !ok {
		return 0, fmt.Errorf("unsupported language: %s", language)
	}
	return threshold, nil
}

// PredictEndOfTurn tokenizes the conversation tail and runs inference.
func (d *ONNXDetector) PredictEndOfTurn(ctx context.Context, convo Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := d.loadSession(); err != nil {
		return 0, fmt.Errorf("loading end-of-turn session: %w", err)
	}
	if err := d.loadTokenizer(); err != nil {
		return 0, fmt.Errorf("loading end-of-turn tokenizer: %w", err)
	}

	start := time.Now()

	ids, err := d.tokenize(convo)
	if err != nil {
		return 0, fmt.Errorf("tokenizing conversation: %w", err)
	}
	if len(ids) == 0 {
		return 0, fmt.Errorf("conversation produced no tokens")
	}

	input, err := ort.NewTensor(ort.NewShape(1, int64(len(ids))), ids)
	if err != nil {
		return 0, fmt.Errorf("creating input tensor: %w", err)
	}
	defer input.Destroy()

	outputs := []ort.Value{nil}
	if err := d.session.Run([]ort.Value{input}, outputs); err != nil {
		return 0, fmt.Errorf("running inference: %w", err)
	}
	logits, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return 0, fmt.Errorf("unexpected output tensor type %T", outputs[0])
	}
	defer logits.Destroy()

	data := logits.GetData()
	if len(data) == 0 {
		return 0, fmt.Errorf("empty logits output")
	}
	probability := sigmoid(float64(data[len(data)-1]))

	if latency := time.Since(start); latency > 25*time.Millisecond {
		// Inference budget is tight: the result gates a held dispatch.
		fmt.Fprintf(os.Stderr, "end-of-turn inference took %v\n", latency)
	}

	return probability, nil
}

func (d *ONNXDetector) loadSession() error {
	d.sessionOnce.Do(func() {
		if err := ensureRuntime(); err != nil {
			d.sessionErr = fmt.Errorf("initializing onnxruntime: %w", err)
			return
		}

		modelFile := filepath.Join(d.modelDir, modelFileRel)
		if _, err := os.Stat(modelFile); err != nil {
			d.sessionErr = fmt.Errorf("model file not found: %s", modelFile)
			return
		}

		options, err := ort.NewSessionOptions()
		if err != nil {
			d.sessionErr = fmt.Errorf("creating session options: %w", err)
			return
		}
		defer options.Destroy()

		intraOp := runtime.NumCPU() / 2
		if intraOp < 1 {
			intraOp = 1
		}
		if err := options.SetIntraOpNumThreads(intraOp); err != nil {
			d.sessionErr = err
			return
		}
		if err := options.SetInterOpNumThreads(1); err != nil {
			d.sessionErr = err
			return
		}

		d.session, d.sessionErr = ort.NewDynamicAdvancedSession(
			modelFile,
			[]string{"input_ids"},
			[]string{"logits"},
			options,
		)
	})
	return d.sessionErr
}

func (d *ONNXDetector) loadTokenizer() error {
	d.tokOnce.Do(func() {
		d.tok, d.tokErr = pretrained.FromFile(filepath.Join(d.modelDir, tokenizerFileRel))
	})
	return d.tokErr
}

func (d *ONNXDetector) loadLanguages() error {
	d.langOnce.Do(func() {
		raw, err := os.ReadFile(filepath.Join(d.modelDir, languagesFileRel))
		if err != nil {
			d.langErr = fmt.Errorf("reading language thresholds: %w", err)
			return
		}
		d.langErr = json.Unmarshal(raw, &d.languages)
	})
	return d.langErr
}

// tokenize renders the conversation tail with role markers and encodes it,
// keeping at most maxContextTokens of the newest tokens.
func (d *ONNXDetector) tokenize(convo Context) ([]int64, error) {
	var b strings.Builder
	for _, m := range convo.Messages {
		b.WriteString("<|")
		b.WriteString(m.Role)
		b.WriteString("|>")
		b.WriteString(m.Content)
	}

	enc, err := d.tok.EncodeSingle(b.String())
	if err != nil {
		return nil, err
	}

	ids := enc.Ids
	if len(ids) > maxContextTokens {
		ids = ids[len(ids)-maxContextTokens:]
	}

	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out, nil
}

// Close releases the inference session.
func (d *ONNXDetector) Close() error {
	if d.session != nil {
		return d.session.Destroy()
	}
	return nil
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// normalizeLanguage maps a BCP-47 tag to the bare language code used by the
// threshold table ("en-US" -> "en").
func normalizeLanguage(language string) string {
	if i := strings.IndexByte(language, '-'); i > 0 {
		return strings.ToLower(language[:i])
	}
	return strings.ToLower(language)
}
