// Package server は、HTTPサーバーと連続配信の送信先を管理します。
//
// 責務:
//   - ginによるAPIのルーティング（ハンドラーはOpenAPIから生成したインターフェースを実装）
//   - セッションレジストリの操作（開始、停止、状態、最新フレーム、ネゴシエーション）
//   - MJPEG（multipart/x-mixed-replace）とWebSocketによる連続配信
//   - /metrics と /api/openapi.json の公開
//
// 仕様:
//   - エラーは ErrorResponse のJSONで返す
//   - 連続配信のハンドラーはアダプタが終了するまで戻らない
//   - グレースフルシャットダウンに対応
package server
