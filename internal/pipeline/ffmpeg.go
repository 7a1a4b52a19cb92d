package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"net/url"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"kanshi/internal/logging"
)

const (
	// maxFrameSize は1フレームとして受け付ける最大サイズ
	maxFrameSize = 16 * 1024 * 1024
	// stderrTailLines はエラー分類のために保持するstderrの行数
	stderrTailLines = 20
	// ffmpegWaitDelay はプロセス終了後にパイプを閉じるまでの猶予
	ffmpegWaitDelay = 2 * time.Second
)

// FFmpegEngine はステージ列をffmpegの起動引数に変換して実行するエンジン
type FFmpegEngine struct {
	path    string
	mu      sync.Mutex
	binary  string
	version string
	live    map[*basePipeline]struct{}
}

// NewFFmpegEngine は新しいFFmpegEngineを作成する
func NewFFmpegEngine(path string) *FFmpegEngine {
	if path == "" {
		path = "ffmpeg"
	}
	return &FFmpegEngine{
		path: path,
		live: make(map[*basePipeline]struct{}),
	}
}

// Name はエンジン名を返す
func (e *FFmpegEngine) Name() string {
	return "ffmpeg"
}

// Supports はネットワークソースとデバイスソースを受け付ける
func (e *FFmpegEngine) Supports(d Description) bool {
	switch d.Source().(type) {
	case NetworkSource, DeviceSource:
		return true
	}
	return false
}

// Init はffmpegの存在とバージョンを確認する
func (e *FFmpegEngine) Init(ctx context.Context) error {
	binary, err := exec.LookPath(e.path)
	if err != nil {
		return fmt.Errorf("ffmpeg が見つかりません (%s): %w", e.path, err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, binary, "-hide_banner", "-version").Output()
	if err != nil {
		return fmt.Errorf("ffmpeg のバージョン確認に失敗: %w", err)
	}
	version, _, _ := strings.Cut(string(out), "\n")

	e.mu.Lock()
	e.binary = binary
	e.version = strings.TrimSpace(version)
	e.mu.Unlock()

	logging.Info().Str("path", binary).Str("version", e.version).Msg("ffmpeg を検出しました")
	return nil
}

// Version は検出したffmpegのバージョン文字列を返す
func (e *FFmpegEngine) Version() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.version
}

// Shutdown は残っているパイプラインを全て閉じる
func (e *FFmpegEngine) Shutdown(_ context.Context) error {
	e.mu.Lock()
	live := make([]*basePipeline, 0, len(e.live))
	for p := range e.live {
		live = append(live, p)
	}
	e.mu.Unlock()

	for _, p := range live {
		_ = p.Close()
	}
	return nil
}

// Start はffmpegを起動してパイプラインを開始する
func (e *FFmpegEngine) Start(ctx context.Context, d Description) (Pipeline, error) {
	args, err := buildArgs(d)
	if err != nil {
		return nil, ConfigError(e.Name(), err)
	}

	e.mu.Lock()
	binary := e.binary
	e.mu.Unlock()
	if binary == "" {
		binary = e.path
	}

	p := newBasePipeline(ctx)

	cmd := exec.CommandContext(p.ctx, binary, args...)
	cmd.WaitDelay = ffmpegWaitDelay

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		p.cancel()
		return nil, fmt.Errorf("stdoutパイプの作成に失敗: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		p.cancel()
		return nil, fmt.Errorf("stderrパイプの作成に失敗: %w", err)
	}

	if err := cmd.Start(); err != nil {
		p.cancel()
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return nil, ConfigError(e.Name(), fmt.Errorf("ffmpegの起動に失敗: %w", err))
		}
		return nil, ConnectError(e.Name(), fmt.Errorf("ffmpegの起動に失敗: %w", err))
	}

	log := logging.With().Str("camera_id", d.CameraID).Int("pid", cmd.Process.Pid).Logger()
	log.Debug().Str("stages", d.String()).Msg("ffmpeg を起動しました")

	e.mu.Lock()
	e.live[p] = struct{}{}
	e.mu.Unlock()

	p.run(func(ctx context.Context) error {
		tail := newLineTail(stderrTailLines)
		stderrDone := make(chan struct{})
		go func() {
			defer close(stderrDone)
			sc := bufio.NewScanner(stderr)
			for sc.Scan() {
				line := sc.Text()
				tail.add(line)
				log.Debug().Str("stderr", line).Msg("ffmpeg")
			}
		}()

		// JPEGフレームを読み取り
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 256*1024), maxFrameSize)
		scanner.Split(splitJPEG)

		var fatal error
		for scanner.Scan() {
			data := bytes.Clone(scanner.Bytes())
			cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
			if err != nil {
				if fatal = p.glitch(DecodeError("mjpeg", err)); fatal != nil {
					break
				}
				continue
			}

			if !p.sendFrame(Frame{
				Data:      data,
				Timestamp: time.Now(),
				Width:     cfg.Width,
				Height:    cfg.Height,
			}) {
				break
			}
		}
		scanErr := scanner.Err()

		if fatal != nil || ctx.Err() != nil {
			// 読み取りを止めたのでプロセスを終了させる
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
			<-stderrDone
			return fatal
		}

		// stderrを読み切ってから終了コードを確認する
		<-stderrDone
		waitErr := cmd.Wait()

		switch {
		case scanErr != nil:
			return DecodeError("mjpeg", scanErr)
		case waitErr != nil:
			diag := tail.String()
			return ClassifyError(e.Name(), diag, fmt.Errorf("ffmpegが異常終了しました (%w): %s", waitErr, tail.last()))
		default:
			log.Info().Msg("ffmpeg の出力が終了しました")
			return nil
		}
	}, func() {
		e.mu.Lock()
		delete(e.live, p)
		e.mu.Unlock()
	})

	return p, nil
}

// buildArgs はステージ列をffmpegの引数に変換する
func buildArgs(d Description) ([]string, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}

	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin"}
	var filters []string
	var input string

	for _, stage := range d.Stages {
		switch s := stage.(type) {
		case NetworkSource:
			uri, err := s.uriWithCredentials()
			if err != nil {
				return nil, err
			}
			timeout := strconv.FormatInt(s.ConnectTimeout.Microseconds(), 10)
			if strings.HasPrefix(uri, "rtsp") {
				args = append(args, "-rtsp_transport", "tcp", "-timeout", timeout)
			} else {
				args = append(args, "-rw_timeout", timeout)
			}
			args = append(args, "-fflags", "nobuffer", "-flags", "low_delay")
			input = uri
		case DeviceSource:
			args = append(args,
				"-f", s.Format,
				"-framerate", strconv.Itoa(s.FPS),
				"-video_size", fmt.Sprintf("%dx%d", s.Width, s.Height),
			)
			if s.Format == "x11grab" {
				filters = append(filters, "format=yuv420p")
			}
			input = s.Device
		case Decode:
			codec, err := decoderName(s.Codec)
			if err != nil {
				return nil, err
			}
			if _, ok := d.Source().(DeviceSource); ok && codec == "mjpeg" {
				args = append(args, "-input_format", "mjpeg")
			}
			args = append(args, "-c:v", codec)
		case Scale:
			filters = append(filters, fmt.Sprintf("scale=%d:%d", s.Width, s.Height))
		case Rate:
			filters = append(filters, fmt.Sprintf("fps=%d", s.FPS))
		case JPEGEncode:
			// 出力オプションは入力指定の後に置く
		case TestPatternSource:
			return nil, errUnsupported(d)
		default:
			return nil, fmt.Errorf("未対応のステージです: %s", stage.Name())
		}
	}

	args = append(args, "-i", input, "-an")
	if len(filters) > 0 {
		args = append(args, "-vf", strings.Join(filters, ","))
	}

	enc, _ := Find[JPEGEncode](d)
	args = append(args,
		"-f", "image2pipe",
		"-c:v", "mjpeg",
		"-q:v", strconv.Itoa(qscale(enc.Quality)),
		"-",
	)

	return args, nil
}

// uriWithCredentials は認証情報を埋め込んだURIを返す
func (s NetworkSource) uriWithCredentials() (string, error) {
	u, err := url.Parse(s.URI)
	if err != nil {
		return "", fmt.Errorf("ソースURIを解析できません: %w", err)
	}
	if s.Username != "" {
		u.User = url.UserPassword(s.Username, s.Password)
	}
	return u.String(), nil
}

// decoderName はコーデック名をffmpegのデコーダ名に変換する
func decoderName(codec string) (string, error) {
	switch codec {
	case "H.264":
		return "h264", nil
	case "H.265":
		return "hevc", nil
	case "MJPEG":
		return "mjpeg", nil
	default:
		return "", fmt.Errorf("未対応のコーデックです: %s", codec)
	}
}

// qscale はJPEG品質(1..100)をffmpegの -q:v (2..31) に変換する
func qscale(quality int) int {
	if quality < 1 {
		quality = DefaultQuality
	}
	if quality > 100 {
		quality = 100
	}
	return 2 + (100-quality)*29/99
}

func errUnsupported(d Description) error {
	return fmt.Errorf("このエンジンでは実行できないステージ列です: %s", d)
}

// lineTail は直近の行を保持する
type lineTail struct {
	mu    sync.Mutex
	lines []string
	size  int
}

func newLineTail(size int) *lineTail {
	return &lineTail{size: size}
}

func (t *lineTail) add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > t.size {
		t.lines = t.lines[len(t.lines)-t.size:]
	}
}

func (t *lineTail) last() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.lines) == 0 {
		return ""
	}
	return t.lines[len(t.lines)-1]
}

func (t *lineTail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, "\n")
}
