package camera

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Credentials はソースへの認証情報
type Credentials struct {
	Username string `json:"username" validate:"required,max=256"`
	Password string `json:"-" validate:"max=256"`
}

// Resolution はカメラの解像度を表す
type Resolution struct {
	Width  int `json:"width" validate:"min=1,max=3840"`  // 幅
	Height int `json:"height" validate:"min=1,max=2160"` // 高さ
}

// ConnectionSpec はカメラへの接続情報
// セッションの生存期間中は変更しない
type ConnectionSpec struct {
	ID          string       `json:"id" validate:"required,max=64,excludesall=/?# "`
	SourceURI   string       `json:"source_uri" validate:"required"`
	Credentials *Credentials `json:"credentials,omitempty" validate:"omitempty"`
	Resolution  Resolution   `json:"resolution"`
	FPS         int          `json:"fps" validate:"min=1,max=60"`
	Codec       string       `json:"codec" validate:"oneof=H.264 H.265 MJPEG"`
}

// Validate は接続情報の妥当性を検証する
func (s *ConnectionSpec) Validate() error {
	if err := validate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s は条件 %s を満たしません (値: %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("接続情報が不正です: %s", strings.Join(msgs, ", "))
		}
		return fmt.Errorf("接続情報の検証に失敗: %w", err)
	}

	u, err := url.Parse(s.SourceURI)
	if err != nil {
		return fmt.Errorf("ソースURIを解析できません: %w", err)
	}
	switch u.Scheme {
	case SchemeRTSP, SchemeRTSPS, SchemeHTTP, SchemeHTTPS:
		if u.Host == "" {
			return fmt.Errorf("ソースURIにホストがありません: %s", s.SourceURI)
		}
	case SchemeV4L2:
		if !strings.HasPrefix(u.Path, "/dev/") {
			return fmt.Errorf("V4L2デバイスのパスが不正です: %s", s.SourceURI)
		}
	case SchemeX11:
		if u.Host == "" && u.Opaque == "" {
			return fmt.Errorf("X11ディスプレイが指定されていません: %s", s.SourceURI)
		}
	case SchemeTestSrc:
	default:
		return fmt.Errorf("未対応のスキームです: %q", u.Scheme)
	}

	return nil
}

// Scheme はソースURIのスキームを返す
func (s *ConnectionSpec) Scheme() string {
	u, err := url.Parse(s.SourceURI)
	if err != nil {
		return ""
	}
	return u.Scheme
}

// IsNetwork はネットワーク経由のソースかどうかを返す
func (s *ConnectionSpec) IsNetwork() bool {
	switch s.Scheme() {
	case SchemeRTSP, SchemeRTSPS, SchemeHTTP, SchemeHTTPS:
		return true
	}
	return false
}

// RedactedURI は認証情報を伏せたソースURIを返す（ログ用）
func (s *ConnectionSpec) RedactedURI() string {
	u, err := url.Parse(s.SourceURI)
	if err != nil {
		return s.SourceURI
	}
	return u.Redacted()
}

// DeviceURI はV4L2デバイスパスをソースURIに変換する
func DeviceURI(device string) string {
	return SchemeV4L2 + "://" + device
}
