// Command glucotrack は血糖値記録APIのエントリーポイント。
//
//	glucotrack [serve]          APIサーバーを起動する
//	glucotrack worker           期限切れトークンのクリーンアップを定期実行する
//	glucotrack migrate [action] マイグレーションを適用する（up / down [n] / status）
//	glucotrack healthcheck      /health を確認する（Dockerヘルスチェック用）
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/glucotrack/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "glucotrack: %v\n", err)
		os.Exit(1)
	}
}
