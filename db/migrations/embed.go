package migrations

import "embed"

// Files 内嵌全部迁移脚本（up 与 down），供 golang-migrate 的 iofs 源读取。
//
//go:embed *.sql
var Files embed.FS
