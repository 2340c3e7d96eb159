// Command welldoc はwelldoc APIサーバー、ワーカー、マイグレーションを起動する。
//
//	welldoc [serve|worker|migrate|healthcheck]
package main

import (
	"fmt"
	"os"

	"github.com/vaibhavij20/Welldoc/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "welldoc: %v\n", err)
		os.Exit(1)
	}
}
