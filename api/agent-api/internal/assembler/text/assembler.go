// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.
package internal_sentence_assembler

import (
	"context"

	internal_default_assembler "github.com/praxisvoice/api/agent-api/internal/assembler/text/internal/default"
	internal_type "github.com/praxisvoice/api/agent-api/internal/type"
	"github.com/praxisvoice/pkg/commons"
	"github.com/praxisvoice/pkg/utils"
)

type TextAssemblerType string

const (
	TextAssemblerDefault    TextAssemblerType = "default"
	OptionsKeyTextAssembler string            = "speaker.sentence.assembler"
)

func GetSentenceAssembler(
	context context.Context,
	logger commons.Logger,
	options utils.Option,
) (internal_type.SentenceAssembler, error) {
	typ, _ := options.GetString(OptionsKeyTextAssembler)
	switch TextAssemblerType(typ) {
	default:
		return internal_default_assembler.NewDefaultSentenceAssembler(context, logger, options)
	}
}
