// Package config 提供 CareFlow 的配置加载。
//
// 配置按默认值、YAML 文件、CAREFLOW_ 前缀的环境变量依次覆盖，
// 花名册可以内联在 agents 中，也可以放在 agents_file 指向的文件里。
package config
