package webrtc

import (
	"context"
	"errors"
	"fmt"

	pion "github.com/pion/webrtc/v4"

	"kanshi/internal/logging"
	"kanshi/internal/stream"
)

const (
	// ChannelLabel はフレーム配信用データチャネルのラベル
	ChannelLabel = "kanshi-frames"
	// ChannelID はネゴシエーション済みデータチャネルのID
	ChannelID uint16 = 0
)

// Config はNegotiatorの設定
type Config struct {
	ICEServers []string
	ChunkSize  int

	// IncludeLoopback はループバックアドレスをICE候補に含める（テスト用）
	IncludeLoopback bool
}

// Negotiator はオファーを受けてピア接続とデータチャネルを作る
type Negotiator struct {
	api       *pion.API
	config    pion.Configuration
	chunkSize int
}

var _ stream.Negotiator = (*Negotiator)(nil)

// NewNegotiator は新しいNegotiatorを作成する
func NewNegotiator(cfg Config) *Negotiator {
	se := pion.SettingEngine{}
	if cfg.IncludeLoopback {
		se.SetIncludeLoopbackCandidate(true)
		se.SetNetworkTypes([]pion.NetworkType{pion.NetworkTypeUDP4})
	}

	var iceServers []pion.ICEServer
	if len(cfg.ICEServers) > 0 {
		iceServers = append(iceServers, pion.ICEServer{URLs: cfg.ICEServers})
	}

	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	return &Negotiator{
		api:       pion.NewAPI(pion.WithSettingEngine(se)),
		config:    pion.Configuration{ICEServers: iceServers},
		chunkSize: chunkSize,
	}
}

// Negotiate はオファーに対するアンサーとフレームの送信先を返す
// ICE候補の収集が終わるまで待ってからアンサーを返す
func (n *Negotiator) Negotiate(ctx context.Context, cameraID string, offer stream.SessionDescription) (stream.SessionDescription, stream.Transport, error) {
	if pion.NewSDPType(offer.Type) != pion.SDPTypeOffer {
		return stream.SessionDescription{}, nil, fmt.Errorf("オファーではありません: %q", offer.Type)
	}
	if offer.SDP == "" {
		return stream.SessionDescription{}, nil, errors.New("SDPが空です")
	}

	pc, err := n.api.NewPeerConnection(n.config)
	if err != nil {
		return stream.SessionDescription{}, nil, fmt.Errorf("ピア接続の作成に失敗: %w", err)
	}

	t, err := n.negotiate(ctx, pc, cameraID, offer)
	if err != nil {
		if cerr := pc.Close(); cerr != nil {
			logging.Debug().Err(cerr).Msg("ピア接続のクローズに失敗しました")
		}
		return stream.SessionDescription{}, nil, err
	}

	local := pc.LocalDescription()
	return stream.SessionDescription{Type: local.Type.String(), SDP: local.SDP}, t, nil
}

func (n *Negotiator) negotiate(ctx context.Context, pc *pion.PeerConnection, cameraID string, offer stream.SessionDescription) (*Transport, error) {
	negotiated := true
	id := ChannelID
	dc, err := pc.CreateDataChannel(ChannelLabel, &pion.DataChannelInit{
		Negotiated: &negotiated,
		ID:         &id,
	})
	if err != nil {
		return nil, fmt.Errorf("データチャネルの作成に失敗: %w", err)
	}

	t := newTransport(pc, dc, cameraID, n.chunkSize)

	if err := pc.SetRemoteDescription(pion.SessionDescription{Type: pion.SDPTypeOffer, SDP: offer.SDP}); err != nil {
		return nil, fmt.Errorf("オファーを適用できません: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("アンサーの作成に失敗: %w", err)
	}

	gathered := pion.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("アンサーを適用できません: %w", err)
	}

	select {
	case <-gathered:
	case <-ctx.Done():
		return nil, fmt.Errorf("ICE候補の収集が完了しません: %w", ctx.Err())
	}

	return t, nil
}
