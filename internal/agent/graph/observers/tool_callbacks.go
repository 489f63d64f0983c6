package observers

import (
	"context"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/tool"
	callbackHelper "github.com/cloudwego/eino/utils/callbacks"

	logx "github.com/zohlar/agent-server/pkg/logger"
)

// newToolHandler builds a typed ToolCallbackHandler to log tool invocations with their arguments and responses.
func newToolHandler() *callbackHelper.ToolCallbackHandler {
	return &callbackHelper.ToolCallbackHandler{
		OnStart: func(ctx context.Context, info *einocb.RunInfo, input *tool.CallbackInput) context.Context {
			ev := logx.Debug().
				Str("component", "tool").
				Str("name", info.Name).
				Str("phase", "start")
			if input != nil {
				ev = ev.Str("arguments", input.ArgumentsInJSON)
			}
			ev.Msg("tool call")
			return ctx
		},
		OnEnd: func(ctx context.Context, info *einocb.RunInfo, output *tool.CallbackOutput) context.Context {
			ev := logx.Debug().
				Str("component", "tool").
				Str("name", info.Name).
				Str("phase", "end")
			if output != nil {
				ev = ev.Str("response", output.Response)
			}
			ev.Msg("tool call")
			return ctx
		},
		OnError: func(ctx context.Context, info *einocb.RunInfo, err error) context.Context {
			logx.Error().
				Str("component", "tool").
				Str("name", info.Name).
				Err(err).
				Msg("tool call failed")
			return ctx
		},
	}
}
