// Package pipeline はカメラ映像の取得からJPEGエンコードまでの処理系を担う
//
// # 責務
//   - 接続情報から型付きステージ列（Description）を組み立てる
//   - ステージ列を実行エンジンで動かし、フレームとイベントを供給する
//   - バックエンドの診断メッセージからエラーを分類する
//
// # 仕様
//   - ステージ: 取得 -> デコード -> スケール -> レート -> JPEGエンコード
//   - NativeEngine: テストパターン（ボール + 時計）をプロセス内で生成
//   - FFmpegEngine: ffmpeg の image2pipe 出力をJPEGフレームに分割
//   - Pipeline はイベントキュー（EOS / Error / StateChanged）を持ち、
//     Close で全リソースを解放する。再起動はしない
//   - ステージの連続3回の失敗は致命的エラーとして通知する
//
// # 前提要件
//   - ffmpeg: ネットワークカメラ、V4L2デバイスの取得に使用
//     Ubuntu/Debian: sudo apt install ffmpeg
//     Red Hat/Fedora: sudo dnf install ffmpeg
package pipeline
