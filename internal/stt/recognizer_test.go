package stt

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/wav"
	"github.com/loqalabs/loqa-robin/internal/config"
)

func TestMockRecognizerSingleSubscriber(t *testing.T) {
	rec := NewMockRecognizer()
	var got []string
	sub, err := rec.Subscribe(Listener{OnFinalResults: func(r []string) { got = r }})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if _, err := rec.Subscribe(Listener{}); !errors.Is(err, ErrSubscribed) {
		t.Fatalf("expected ErrSubscribed, got %v", err)
	}

	rec.EmitFinal("robin history")
	if len(got) != 1 || got[0] != "robin history" {
		t.Fatalf("unexpected results %v", got)
	}

	sub.Unsubscribe()
	sub.Unsubscribe()
	if rec.Subscribed() {
		t.Fatalf("expected slot to be free")
	}
	got = nil
	rec.EmitFinal("ignored")
	if got != nil {
		t.Fatalf("unsubscribed listener received %v", got)
	}

	next, err := rec.Subscribe(Listener{})
	if err != nil {
		t.Fatalf("resubscribe: %v", err)
	}
	sub.Unsubscribe()
	if !rec.Subscribed() {
		t.Fatalf("stale unsubscribe evicted the new owner")
	}
	next.Unsubscribe()
}

func TestMockRecognizerStartStop(t *testing.T) {
	rec := NewMockRecognizer()
	if err := rec.Start("en-US"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := rec.Start("en-US"); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
	if !rec.Listening() || rec.Locale() != "en-US" {
		t.Fatalf("expected listening in en-US")
	}
	if err := rec.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := rec.Destroy(); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	starts, stops, destroys := rec.Calls()
	if starts != 2 || stops != 1 || destroys != 1 {
		t.Fatalf("unexpected calls %d/%d/%d", starts, stops, destroys)
	}
}

func TestBenign(t *testing.T) {
	cases := []struct {
		code, msg string
		want      bool
	}{
		{CodeNoSpeech, "", true},
		{CodeNoMatch, "", true},
		{CodeAlreadyStarted, "", true},
		{"7", "No speech input", true},
		{"5", "Recognizer already started.", true},
		{"11", "No match", true},
		{CodeTranscription, "exit status 1", false},
		{"9", "Insufficient permissions", false},
	}
	for _, tc := range cases {
		if got := Benign(tc.code, tc.msg); got != tc.want {
			t.Fatalf("Benign(%q, %q) = %v", tc.code, tc.msg, got)
		}
	}
}

func TestMockTranscriberScript(t *testing.T) {
	tr := NewMockTranscriber("robin history", "")
	ctx := context.Background()
	res, err := tr.Transcribe(ctx, make([]byte, 4), 16000, 1, true)
	if err != nil || res.Text != "robin history" || len(res.Alternatives) != 1 {
		t.Fatalf("unexpected first result %+v err=%v", res, err)
	}
	res, _ = tr.Transcribe(ctx, nil, 16000, 1, true)
	if res.Text != "" || len(res.Alternatives) != 0 {
		t.Fatalf("expected empty utterance, got %+v", res)
	}
	res, _ = tr.Transcribe(ctx, make([]byte, 8), 16000, 1, false)
	if res.Text != "[partial transcript length=8]" {
		t.Fatalf("unexpected fallback %q", res.Text)
	}
}

func TestWritePCMToWav(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.wav")
	file, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	pcm := []byte{0x01, 0x00, 0xff, 0xff, 0x00, 0x10, 0x00, 0xf0}
	if err := writePCMToWav(file, pcm, 16000, 1); err != nil {
		t.Fatalf("write: %v", err)
	}
	file.Close()

	in, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer in.Close()
	dec := wav.NewDecoder(in)
	if !dec.IsValidFile() {
		t.Fatalf("expected a valid wav file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []int{1, -1, 4096, -4096}
	if len(buf.Data) != len(want) {
		t.Fatalf("got %d samples want %d", len(buf.Data), len(want))
	}
	for i := range want {
		if buf.Data[i] != want[i] {
			t.Fatalf("sample %d: got %d want %d", i, buf.Data[i], want[i])
		}
	}

	if err := writePCMToWav(file, []byte{1}, 16000, 1); err == nil {
		t.Fatalf("expected misaligned pcm to fail")
	}
}

func TestExecTranscriberPassesAudioFile(t *testing.T) {
	script := filepath.Join(t.TempDir(), "stt.sh")
	body := `[ "$1" = "--audio" ] && [ -s "$2" ] || exit 3
[ "$3" = "--language" ] && [ "$4" = "en-US" ] || exit 4
echo '{"alternatives":["robin hist","robin history"],"confidence":0.8}'
`
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}
	tr, err := NewExecTranscriber(config.STTConfig{Command: "sh " + script, Language: "en-US"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	res, err := tr.Transcribe(context.Background(), make([]byte, 320), 16000, 1, true)
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if res.Text != "robin history" || len(res.Alternatives) != 2 || res.Confidence != 0.8 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestExecResultFillsGaps(t *testing.T) {
	if r := (execResult{Text: "robin forecast"}).result(); len(r.Alternatives) != 1 || r.Alternatives[0] != "robin forecast" {
		t.Fatalf("text should seed alternatives: %+v", r)
	}
	if r := (execResult{Alternatives: []string{"a", "b"}}).result(); r.Text != "b" {
		t.Fatalf("last alternative should become text: %+v", r)
	}
}
