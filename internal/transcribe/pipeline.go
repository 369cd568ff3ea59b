package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/you/whisperd/internal/domain"
)

// commandResult captures one external process invocation.
type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

// execRunner executes commands via os/exec.
type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
	}
	return result, err
}

// Pipeline is the production Transcriber: ffmpeg converts the input to
// mono 16k PCM WAV, whisper-cli produces a JSON transcript, and the
// transcript is folded into a TranscriptionResult.
type Pipeline struct {
	ffmpegPath  string
	whisperPath string
	runner      commandRunner
	mkdirTemp   func(dir, pattern string) (string, error)
	readFile    func(name string) ([]byte, error)
	now         func() time.Time
}

// NewPipeline constructs the pipeline around the given tool binaries.
func NewPipeline(ffmpegPath, whisperPath string) *Pipeline {
	return &Pipeline{
		ffmpegPath:  ffmpegPath,
		whisperPath: whisperPath,
		runner:      execRunner{},
		mkdirTemp:   os.MkdirTemp,
		readFile:    os.ReadFile,
		now:         time.Now,
	}
}

// Transcribe runs the two-stage pipeline and reports per-stage progress.
func (p *Pipeline) Transcribe(ctx context.Context, req Request) (domain.TranscriptionResult, error) {
	start := p.now()

	if strings.TrimSpace(req.InputPath) == "" {
		return domain.TranscriptionResult{}, &Error{Stage: StagePreprocess, Message: "no input media provided"}
	}

	emit(req, StagePreprocess, 0, "Validating file format...")
	if _, err := os.Stat(req.InputPath); err != nil {
		return domain.TranscriptionResult{}, &Error{Stage: StagePreprocess, Message: "input media is not readable", Err: err}
	}

	tempDir, err := p.mkdirTemp("", "whisperd-*")
	if err != nil {
		return domain.TranscriptionResult{}, &Error{Stage: StagePreprocess, Message: "could not allocate workspace", Err: err}
	}
	defer os.RemoveAll(tempDir)

	wavPath := filepath.Join(tempDir, "audio-16k-mono.wav")
	emit(req, StagePreprocess, 25, "Converting audio...")
	if _, err := p.runner.Run(ctx, p.ffmpegPath, ffmpegArgs(req.InputPath, wavPath)...); err != nil {
		return domain.TranscriptionResult{}, &Error{Stage: StagePreprocess, Message: "audio conversion failed", Err: err}
	}
	if _, err := os.Stat(wavPath); err != nil {
		return domain.TranscriptionResult{}, &Error{Stage: StagePreprocess, Message: "audio conversion produced no output", Err: err}
	}
	emit(req, StagePreprocess, 100, "Audio ready")

	outBase := filepath.Join(tempDir, "transcript")
	emit(req, StageTranscribe, 0, "Starting audio transcription...")
	if _, err := p.runner.Run(ctx, p.whisperPath, whisperArgs(req.ModelPath, wavPath, outBase, req.Language)...); err != nil {
		return domain.TranscriptionResult{}, &Error{Stage: StageTranscribe, Message: "transcription engine failed", Err: err}
	}

	emit(req, StageTranscribe, 90, "Formatting transcription results...")
	raw, err := p.readFile(outBase + ".json")
	if err != nil {
		return domain.TranscriptionResult{}, &Error{Stage: StageTranscribe, Message: "transcript output is missing", Err: err}
	}
	result, err := parseWhisperOutput(raw)
	if err != nil {
		return domain.TranscriptionResult{}, &Error{Stage: StageTranscribe, Message: "transcript output is malformed", Err: err}
	}

	result.ModelUsed = filepath.Base(req.ModelPath)
	result.ProcessingTimeSeconds = p.now().Sub(start).Seconds()
	emit(req, StageTranscribe, 100, "Transcription completed successfully")
	return result, nil
}

func emit(req Request, stage Stage, pct float64, message string) {
	if req.OnProgress != nil {
		req.OnProgress(stage, pct, message)
	}
}

// ffmpegArgs builds conversion args for mono 16k PCM WAV output.
func ffmpegArgs(inputPath, outPath string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		outPath,
	}
}

// whisperArgs builds whisper-cli args for JSON transcript export.
func whisperArgs(modelPath, audioPath, outBase, language string) []string {
	args := []string{
		"-m", modelPath,
		"-f", audioPath,
		"-of", outBase,
		"-oj",
		// full JSON carries per-token probabilities, the only confidence
		// signal whisper-cli exposes
		"-ojf",
	}
	lang := strings.TrimSpace(language)
	if lang != "" && !strings.EqualFold(lang, "auto") {
		args = append(args, "-l", lang)
	}
	return args
}

// whisperOutput mirrors the fields we consume from whisper-cli -oj/-ojf.
type whisperOutput struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text   string `json:"text"`
		Tokens []struct {
			P float64 `json:"p"`
		} `json:"tokens"`
	} `json:"transcription"`
}

func parseWhisperOutput(raw []byte) (domain.TranscriptionResult, error) {
	var out whisperOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return domain.TranscriptionResult{}, err
	}

	var (
		parts    []string
		segments []domain.Segment
		duration float64
		probSum  float64
		tokens   int
	)
	for _, seg := range out.Transcription {
		text := strings.TrimSpace(seg.Text)
		if text != "" {
			parts = append(parts, text)
		}
		end := float64(seg.Offsets.To) / 1000.0
		segments = append(segments, domain.Segment{
			Start: float64(seg.Offsets.From) / 1000.0,
			End:   end,
			Text:  text,
		})
		if end > duration {
			duration = end
		}
		for _, tok := range seg.Tokens {
			probSum += tok.P
			tokens++
		}
	}

	result := domain.TranscriptionResult{
		Text:            strings.Join(parts, " "),
		Language:        out.Result.Language,
		Segments:        segments,
		DurationSeconds: duration,
	}
	// mean token probability; zero when the transcript carries no tokens
	if tokens > 0 {
		result.Confidence = probSum / float64(tokens)
	}
	return result, nil
}
