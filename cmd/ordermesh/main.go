package main

import (
	"k8s.io/klog/v2"

	"ordermesh/cmd/ordermesh/app"
)

func main() {
	cmd := app.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		klog.Fatalf("run command: %v", err)
	}
}
