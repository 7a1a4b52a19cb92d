package pipeline

import "strings"

var (
	authKeywords = []string{
		"unauthorized",
		"401",
		"403",
		"forbidden",
		"authentication",
		"authorization failed",
		"credentials",
		"password",
	}

	codecKeywords = []string{
		"decode",
		"decoding",
		"codec",
		"invalid data found",
		"corrupt",
		"missing picture",
		"no frame",
		"unsupported",
		"bitstream",
		"non-existing pps",
	}

	networkKeywords = []string{
		"connection",
		"timed out",
		"timeout",
		"unreachable",
		"network",
		"resolve",
		"name or service not known",
		"socket",
		"broken pipe",
		"end of file",
		"404",
		"not found",
		"no such file or directory",
		"device or resource busy",
	}
)

// Classify はバックエンドの診断メッセージからエラー分類を推定する
// 認証 -> コーデック -> ネットワーク の順に判定し、該当なしは接続エラーとする
func Classify(diagnostic string) ErrorKind {
	msg := strings.ToLower(diagnostic)

	if containsAny(msg, authKeywords) {
		return KindConfig
	}
	if containsAny(msg, codecKeywords) {
		return KindDecode
	}
	if containsAny(msg, networkKeywords) {
		return KindConnect
	}
	return KindConnect
}

// ClassifyError は診断メッセージから分類したパイプラインエラーを作成する
func ClassifyError(op, diagnostic string, err error) error {
	return &Error{Kind: Classify(diagnostic), Op: op, Err: err}
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
