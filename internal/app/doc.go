// Package app は設定からサービスを組み立て、スーパーバイザーツリーで動かします。
//
// stream-layer はセッションレジストリ、catalog-layer はカメラの定期スキャン、
// api-layer はHTTPサーバーを受け持つ。どれかが失敗しても他の層は動き続ける。
package app
