// Package transcript acquires transcripts for episodes. YouTube videos are
// transcribed from their own captions, which is fast and free; Spaces
// recordings and podcast audio go through Whisper.
package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"briefcast/internal/identity"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"
)

var execCommandContext = exec.CommandContext

// ErrNoCaptions is returned when a YouTube video has no captions available.
// It is a permanent condition: retrying will not produce captions.
var ErrNoCaptions = errors.New("this video doesn't have captions available")

// ErrBadVideoURL is returned for URLs no video id can be extracted from.
// Also permanent: the URL will not get better on retry.
var ErrBadVideoURL = errors.New("could not extract video id")

// Result carries the transcript plus the media title when the backend was
// able to determine one.
type Result struct {
	Text  string
	Title string
}

type Service struct {
	openai *openai.Client
}

func NewService(client *openai.Client) *Service {
	return &Service{openai: client}
}

// TranscribeYouTube fetches a video's captions with yt-dlp. It never falls
// back to audio download; videos without captions fail with ErrNoCaptions.
func (s *Service) TranscribeYouTube(ctx context.Context, url string) (Result, error) {
	videoID, ok := identity.ExtractYouTubeVideoID(url)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrBadVideoURL, url)
	}

	tmpDir, err := os.MkdirTemp("", "captions-")
	if err != nil {
		return Result{}, err
	}
	defer os.RemoveAll(tmpDir)

	outTemplate := filepath.Join(tmpDir, "subs")
	cmd := execCommandContext(ctx, "yt-dlp",
		"--skip-download",
		"--write-subs",
		"--write-auto-subs",
		"--sub-langs", "en.*",
		"--sub-format", "json3",
		"--no-warnings",
		"-o", outTemplate,
		fmt.Sprintf("https://youtube.com/watch?v=%s", videoID),
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return Result{}, fmt.Errorf("failed to fetch captions: %w, output: %s", err, string(output))
	}

	matches, _ := filepath.Glob(outTemplate + "*.json3")
	if len(matches) == 0 {
		log.Printf("No captions found for video %s", videoID)
		return Result{}, ErrNoCaptions
	}

	text, err := parseJSON3Captions(matches[0])
	if err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(text) == "" {
		return Result{}, ErrNoCaptions
	}

	return Result{Text: text, Title: s.fetchTitle(ctx, url)}, nil
}

// TranscribeSpaces downloads an X Spaces recording with yt-dlp and runs it
// through Whisper.
func (s *Service) TranscribeSpaces(ctx context.Context, url string) (Result, error) {
	tmpDir, err := os.MkdirTemp("", "spaces-")
	if err != nil {
		return Result{}, err
	}
	defer os.RemoveAll(tmpDir)

	audioPath := filepath.Join(tmpDir, uuid.NewString()+".mp3")
	cmd := execCommandContext(ctx, "yt-dlp",
		"-x",
		"--audio-format", "mp3",
		"--audio-quality", "9",
		"--no-warnings",
		"-o", audioPath,
		url,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return Result{}, fmt.Errorf("failed to download space audio: %w, output: %s", err, string(output))
	}

	text, err := s.whisper(ctx, audioPath)
	if err != nil {
		return Result{}, err
	}
	return Result{Text: text, Title: s.fetchTitle(ctx, url)}, nil
}

// TranscribeAudioURL downloads podcast audio from its enclosure URL and runs
// it through Whisper.
func (s *Service) TranscribeAudioURL(ctx context.Context, audioURL string) (Result, error) {
	tmpDir, err := os.MkdirTemp("", "podcast-")
	if err != nil {
		return Result{}, err
	}
	defer os.RemoveAll(tmpDir)

	audioPath := filepath.Join(tmpDir, uuid.NewString()+".mp3")
	if err := downloadFile(ctx, audioURL, audioPath); err != nil {
		return Result{}, fmt.Errorf("failed to download audio: %w", err)
	}

	text, err := s.whisper(ctx, audioPath)
	if err != nil {
		return Result{}, err
	}
	return Result{Text: text}, nil
}

func (s *Service) whisper(ctx context.Context, audioPath string) (string, error) {
	resp, err := s.openai.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		FilePath: audioPath,
		Format:   openai.AudioResponseFormatText,
	})
	if err != nil {
		return "", fmt.Errorf("whisper transcription failed: %w", err)
	}
	return resp.Text, nil
}

func (s *Service) fetchTitle(ctx context.Context, url string) string {
	cmd := execCommandContext(ctx, "yt-dlp", "--get-title", "--no-warnings", url)
	output, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(output))
}

func downloadFile(ctx context.Context, url, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, url)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(f, resp.Body)
	return err
}

type json3Captions struct {
	Events []struct {
		Segs []struct {
			UTF8 string `json:"utf8"`
		} `json:"segs"`
	} `json:"events"`
}

func parseJSON3Captions(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	var captions json3Captions
	if err := json.Unmarshal(data, &captions); err != nil {
		return "", fmt.Errorf("failed to parse captions file: %w", err)
	}

	var b strings.Builder
	for _, event := range captions.Events {
		for _, seg := range event.Segs {
			if seg.UTF8 == "\n" {
				continue
			}
			b.WriteString(seg.UTF8)
		}
		b.WriteString(" ")
	}
	return strings.TrimSpace(b.String()), nil
}
