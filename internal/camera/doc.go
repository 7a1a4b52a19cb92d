// Package camera カメラカタログを担う
//
// # 責務
// - 設定ファイルで定義されたカメラの接続情報（ConnectionSpec）の保持
// - ローカルV4L2デバイスの自動検出とカタログへの追加・削除
// - 接続情報の妥当性検証
//
// # 使い分け
// このパッケージは以下の場合に使用する：
// - カメラIDから接続情報を引きたい
// - 接続可能なカメラ一覧を表示したい
//
// ストリームの開始・停止は stream パッケージが担い、
// このパッケージはセッション管理から読み取り専用で参照される。
//
// # 仕様
// - ソースURI: rtsp(s)://, http(s)://, v4l2:///dev/videoN, x11::0.0, testsrc://
// - 解像度: 1..3840 x 1..2160、FPS: 1..60、コーデック: H.264 / H.265 / MJPEG
// - 自動検出したデバイスのIDはデバイス名（video0 など）
// - Thread-safe な操作をサポート
//
// # 前提要件
//   - v4l-utils: カメラ名とサポートフォーマットの取得に使用
//     Ubuntu/Debian: sudo apt install v4l-utils
//     Red Hat/Fedora: sudo dnf install v4l-utils
//   - videoグループへの参加: デバイスアクセス権限
//     sudo usermod -a -G video $USER
package camera
