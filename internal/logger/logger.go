// Package logger はレベル別のロガーとログ出力用のサニタイズ関数を提供します。
package logger

import (
	"io"
	"log"
	"os"
	"strings"
)

var (
	Info  *log.Logger
	Error *log.Logger
	Debug *log.Logger
	Warn  *log.Logger
)

const logFlags = log.Ldate | log.Ltime | log.LUTC | log.Lshortfile

func init() {
	Info = log.New(os.Stdout, "INFO: ", logFlags)
	Error = log.New(os.Stdout, "ERROR: ", logFlags)
	Debug = log.New(io.Discard, "DEBUG: ", logFlags)
	Warn = log.New(os.Stdout, "WARN: ", logFlags)
}

// SetLevel はログレベルを設定します。debug 以外では Debug ロガーを破棄します。
func SetLevel(level string) {
	if strings.EqualFold(strings.TrimSpace(level), "debug") {
		Debug.SetOutput(os.Stdout)
		return
	}
	Debug.SetOutput(io.Discard)
}

// SetOutput は全ロガーの出力先を差し替えます（テスト用）。
func SetOutput(w io.Writer) {
	Info.SetOutput(w)
	Error.SetOutput(w)
	Warn.SetOutput(w)
}
