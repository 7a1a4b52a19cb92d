// Package webrtc はWebRTCのデータチャネルでフレームを配信する
//
// ブラウザなどのクライアントは、ネゴシエーション済みのデータチャネル
// (ラベル "kanshi-frames"、ID 0) を含むオファーを送る。Negotiator は
// アンサーを返し、そのデータチャネルを stream.Transport として
// セッションの連続配信に接続する。フレームはチャンクに分割され、
// 各メッセージの先頭には連番・チャンク番号・チャンク数が付く。
package webrtc
