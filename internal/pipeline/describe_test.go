package pipeline

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"kanshi/internal/camera"
)

func testSpec(uri string) camera.ConnectionSpec {
	return camera.ConnectionSpec{
		ID:         "cam1",
		SourceURI:  uri,
		Resolution: camera.Resolution{Width: 640, Height: 480},
		FPS:        15,
		Codec:      "H.264",
	}
}

func TestDescribe(t *testing.T) {
	testCases := []struct {
		name   string
		uri    string
		stages string
	}{
		{"テストパターン", "testsrc://", "testpattern ! scale ! rate ! jpegenc"},
		{"RTSP", "rtsp://192.168.1.10/stream", "network ! decode ! scale ! rate ! jpegenc"},
		{"HTTP", "http://192.168.1.10/video", "network ! decode ! scale ! rate ! jpegenc"},
		{"V4L2", "v4l2:///dev/video0", "v4l2 ! decode ! scale ! rate ! jpegenc"},
		{"X11", "x11::0.0", "x11grab ! scale ! rate ! jpegenc"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := Describe(testSpec(tc.uri), 85)
			if err != nil {
				t.Fatalf("Describe failed: %v", err)
			}
			if got := d.String(); got != tc.stages {
				t.Errorf("stages = %q, want %q", got, tc.stages)
			}
			if d.CameraID != "cam1" {
				t.Errorf("CameraID = %s", d.CameraID)
			}
			w, h := d.Output()
			if w != 640 || h != 480 {
				t.Errorf("Output() = %dx%d, want 640x480", w, h)
			}
			enc, ok := Find[JPEGEncode](d)
			if !ok || enc.Quality != 85 {
				t.Errorf("JPEGEncode = %+v", enc)
			}
		})
	}
}

func TestDescribeNetworkSource(t *testing.T) {
	spec := testSpec("rtsp://192.168.1.10/stream")
	spec.Credentials = &camera.Credentials{Username: "admin", Password: "p@ss"}

	d, err := Describe(spec, 70, WithConnectTimeout(3*time.Second))
	if err != nil {
		t.Fatalf("Describe failed: %v", err)
	}

	src, ok := d.Source().(NetworkSource)
	if !ok {
		t.Fatalf("Source() = %T", d.Source())
	}
	want := NetworkSource{
		URI:            "rtsp://192.168.1.10/stream",
		Username:       "admin",
		Password:       "p@ss",
		ConnectTimeout: 3 * time.Second,
	}
	if !reflect.DeepEqual(src, want) {
		t.Errorf("NetworkSource = %+v, want %+v", src, want)
	}
}

func TestDescribeRejectsInvalidSpec(t *testing.T) {
	testCases := []struct {
		name    string
		spec    camera.ConnectionSpec
		quality int
	}{
		{"未対応スキーム", testSpec("ftp://example.com/a"), 70},
		{"FPS範囲外", func() camera.ConnectionSpec { s := testSpec("testsrc://"); s.FPS = 0; return s }(), 70},
		{"品質範囲外", testSpec("testsrc://"), 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Describe(tc.spec, tc.quality)
			if err == nil {
				t.Fatal("エラーが期待されましたが、nilが返されました")
			}
			if !IsConfig(err) {
				t.Errorf("設定エラーが期待されました: %v", err)
			}
		})
	}
}

func TestQualityPreset(t *testing.T) {
	testCases := map[string]int{
		"high":    85,
		"medium":  70,
		"low":     50,
		"unknown": DefaultQuality,
	}
	for name, want := range testCases {
		if got := QualityPreset(name); got != want {
			t.Errorf("QualityPreset(%q) = %d, want %d", name, got, want)
		}
	}
}

func TestDescriptionValidate(t *testing.T) {
	testCases := []struct {
		name      string
		stages    []Stage
		expectErr bool
	}{
		{"正常", []Stage{TestPatternSource{Width: 320, Height: 240}, JPEGEncode{Quality: 70}}, false},
		{"空", nil, true},
		{"ソースなし", []Stage{Scale{Width: 1, Height: 1}, JPEGEncode{Quality: 70}}, true},
		{"エンコードなし", []Stage{TestPatternSource{}, Scale{Width: 1, Height: 1}}, true},
		{"ソースが途中", []Stage{TestPatternSource{}, NetworkSource{}, JPEGEncode{Quality: 70}}, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := Description{Stages: tc.stages}.validate()
			if tc.expectErr != (err != nil) {
				t.Errorf("validate() = %v, expectErr %v", err, tc.expectErr)
			}
		})
	}
}

func TestErrorKind(t *testing.T) {
	base := errors.New("boom")
	err := ConnectError("rtsp", base)

	kind, ok := KindOf(err)
	if !ok || kind != KindConnect {
		t.Errorf("KindOf() = %v, %v", kind, ok)
	}
	if !errors.Is(err, base) {
		t.Error("元のエラーをたどれません")
	}
	if _, ok := KindOf(base); ok {
		t.Error("パイプライン以外のエラーで ok=true になっています")
	}
	if KindDecode.String() != "decode" || KindConfig.String() != "config" {
		t.Error("ErrorKind.String() が想定と異なります")
	}
}
