// Command feedrank 是推荐引擎的命令行入口：离线推荐、交互学习、种子数据、Kafka 消费与指标导出。
package main

import (
	"fmt"
	"os"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
