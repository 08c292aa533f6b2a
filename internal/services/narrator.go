package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/aiwuxian/abyss-tension/internal/models"
)

const narratorSystemPrompt = "你是一个黑色犯罪故事的叙述者。根据危机处理的结果，用两到三句中文描述发生了什么。只输出叙述本身。"

// Narrator 调用LLM为解决尝试生成叙述；未配置或调用失败时使用固定文本
type Narrator struct {
	client *openai.Client
	cfg    models.LLMConfig
	logger *zap.Logger
}

func NewNarrator(cfg models.LLMConfig, logger *zap.Logger) *Narrator {
	n := &Narrator{cfg: cfg, logger: logger.Named("narrator")}
	if cfg.APIKey == "" {
		n.logger.Info("LLM API key not set, narration uses fallback text")
		return n
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.APIBase != "" {
		clientCfg.BaseURL = cfg.APIBase
	}
	n.client = openai.NewClientWithConfig(clientCfg)
	return n
}

// Enabled 是否会真正调用LLM
func (n *Narrator) Enabled() bool { return n.client != nil }

// NarrateOutcome 生成解决尝试的叙述，出错时降级为固定文本
func (n *Narrator) NarrateOutcome(ctx context.Context, tpl *models.CrisisTemplate, res *models.CrisisResolution,
	attempt *models.ResolutionAttempt) string {
	fallback := FallbackNarration(res, attempt)
	if n.client == nil {
		return fallback
	}

	text, err := n.complete(ctx, outcomePrompt(tpl, res, attempt))
	if err != nil {
		n.logger.Warn("Narration failed, using fallback", zap.Error(err))
		return fallback
	}
	return text
}

func (n *Narrator) complete(ctx context.Context, prompt string) (string, error) {
	resp, err := n.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: n.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: narratorSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: n.cfg.Temperature,
		MaxTokens:   n.cfg.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("调用LLM失败: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("LLM未返回内容")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", errors.New("LLM返回空文本")
	}
	return text, nil
}

func outcomePrompt(tpl *models.CrisisTemplate, res *models.CrisisResolution, attempt *models.ResolutionAttempt) string {
	var b strings.Builder
	if tpl != nil {
		fmt.Fprintf(&b, "危机：%s\n", tpl.Name)
	}
	fmt.Fprintf(&b, "应对方式：%s\n", res.Name)
	fmt.Fprintf(&b, "成功率：%.0f%%\n", attempt.Probability*100)
	fmt.Fprintf(&b, "结果：%s\n", resultWord(attempt.Success))
	if attempt.Outcome != nil && attempt.Outcome.Description != "" {
		fmt.Fprintf(&b, "结局：%s\n", attempt.Outcome.Description)
	}
	return b.String()
}

// FallbackNarration 不依赖LLM的固定叙述
func FallbackNarration(res *models.CrisisResolution, attempt *models.ResolutionAttempt) string {
	text := fmt.Sprintf("你尝试了%s，结果%s", res.Name, resultWord(attempt.Success))
	if attempt.Outcome != nil && attempt.Outcome.Description != "" {
		text += "：" + attempt.Outcome.Description
	}
	return text
}

func resultWord(success bool) string {
	if success {
		return "成功"
	}
	return "失败"
}
