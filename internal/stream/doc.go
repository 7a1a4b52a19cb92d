// Package stream はカメラごとのライブストリームセッションを管理する
//
// Registry がカメラIDとセッションの対応を保持し、開始と停止を直列化する。
// Session は1本のパイプラインを専用のゴルーチンで実行し、最新フレームを
// FrameCache に保持する。パイプラインが致命的なエラーで終了すると
// スーパーバイザーがバックオフ付きで再接続を試みる。
//
// フレームの配信には2つの方法がある:
//
//   - ポーリング: Registry.LatestFrame でキャッシュの最新フレームを取得する
//   - 連続配信: PushAdapter が Transport にフレームを送り続ける
//
// 連続配信の Transport は MJPEG や WebSocket のように確立済みの接続を
// Registry.Attach で渡すか、Negotiator によるオファー/アンサー交換で作る。
package stream
