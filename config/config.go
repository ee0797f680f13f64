// Package config 存放程序的配置信息
package config

// Initialize 触发加载 config 包的所有 init 函数
func Initialize() {
	// 空函数，由 main.go 调用，确保本包各配置文件的 init() 先于 InitConfig 执行
}
