package stream

import (
	"errors"
	"math"
	"strconv"
	"strings"
)

// Command はテキストメッセージを解釈した結果
type Command interface {
	isCommand()
}

// SetFPSCommand は SET_FPS:<n>
type SetFPSCommand struct {
	FPS int
}

// SetJPEGQualityCommand は SET_JPEG_QUALITY:<n>
type SetJPEGQualityCommand struct {
	Quality int
}

// SetResolutionCommand は SET_RESOLUTION:<name>
type SetResolutionCommand struct {
	Name string
}

// StartStreamCommand は start_stream
type StartStreamCommand struct{}

// StopStreamCommand は stop_stream
type StopStreamCommand struct{}

// UnknownCommand は認識できないメッセージ
type UnknownCommand struct {
	Text string
}

func (SetFPSCommand) isCommand()         {}
func (SetJPEGQualityCommand) isCommand() {}
func (SetResolutionCommand) isCommand()  {}
func (StartStreamCommand) isCommand()    {}
func (StopStreamCommand) isCommand()     {}
func (UnknownCommand) isCommand()        {}

func (c SetFPSCommand) String() string {
	return PrefixSetFPS + strconv.Itoa(c.FPS)
}

func (c SetJPEGQualityCommand) String() string {
	return PrefixSetJPEGQuality + strconv.Itoa(c.Quality)
}

func (c SetResolutionCommand) String() string {
	return PrefixSetResolution + c.Name
}

func (StartStreamCommand) String() string { return CmdStartStream }

func (StopStreamCommand) String() string { return CmdStopStream }

// ParseCommand はテキストメッセージをコマンドに変換する
// 数値の解釈に失敗した場合は0として扱い、範囲チェックは各セッターに任せる
func ParseCommand(text string) Command {
	switch {
	case strings.HasPrefix(text, PrefixSetFPS):
		return SetFPSCommand{FPS: leadingInt(strings.TrimPrefix(text, PrefixSetFPS))}
	case strings.HasPrefix(text, PrefixSetJPEGQuality):
		return SetJPEGQualityCommand{Quality: leadingInt(strings.TrimPrefix(text, PrefixSetJPEGQuality))}
	case strings.HasPrefix(text, PrefixSetResolution):
		return SetResolutionCommand{Name: strings.TrimPrefix(text, PrefixSetResolution)}
	case text == CmdStartStream:
		return StartStreamCommand{}
	case text == CmdStopStream:
		return StopStreamCommand{}
	default:
		return UnknownCommand{Text: text}
	}
}

// leadingInt は先頭の整数部分だけを読み取る。"12abc" は12、数字がなければ0
// 桁あふれは符号に応じて最大値または最小値に丸める
func leadingInt(s string) int {
	s = strings.TrimLeft(s, " \t\r\n")

	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0
	}

	n, err := strconv.Atoi(s[:end])
	if errors.Is(err, strconv.ErrRange) {
		if s[0] == '-' {
			return math.MinInt
		}
		return math.MaxInt
	}
	if err != nil {
		return 0
	}
	return n
}
