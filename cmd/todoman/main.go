// Command todoman はGoogleログイン付きのタスク管理Webアプリケーションを起動する。
//
// 使い方:
//
//	todoman [serve|migrate|worker|healthcheck]
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/todoman/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "todoman: %v\n", err)
		os.Exit(1)
	}
}
