package app

// Command はtodomanの起動モード。
type Command string

const (
	// CommandServe はHTTP APIを提供する。引数なしの既定値。
	CommandServe Command = "serve"
	// CommandWorker は期限切れセッションの定期削除だけを行う。
	CommandWorker Command = "worker"
	// CommandMigrate はスキーマを最新まで適用して終了する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は起動中のサーバーの /health を叩いて終了する。
	// distrolessイメージにはcurlが無いためDockerのHEALTHCHECKから使う。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand は先頭の引数からサブコマンドを決める。
// 未知の値や引数なしはCommandServeとして扱う。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch c := Command(args[0]); c {
	case CommandWorker, CommandMigrate, CommandHealthcheck:
		return c
	default:
		return CommandServe
	}
}

// RequiresSharedStorage はプロセス外のストレージ(PostgreSQL)がないと意味をなさないコマンドかを返す。
// インメモリストレージは別プロセスから見えないため、workerとmigrateは実行できない。
func (c Command) RequiresSharedStorage() bool {
	return c == CommandWorker || c == CommandMigrate
}
