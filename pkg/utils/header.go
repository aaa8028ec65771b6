// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

package utils

// HTTP header names used across webhook validation and the ops API.
const (
	HEADER_API_KEY         = "x-api-key"
	HEADER_AUTH_KEY        = "authorization"
	HEADER_SOURCE_KEY      = "x-praxis-source"
	HEADER_ENVIRONMENT_KEY = "x-praxis-environment"
	HEADER_REGION_KEY      = "x-praxis-region"
	HEADER_REQUEST_ID      = "x-request-id"

	HEADER_SIGNATURE        = "X-Signature"
	HEADER_TIMESTAMP        = "X-Timestamp"
	HEADER_TWILIO_SIGNATURE = "X-Twilio-Signature"
	HEADER_SIPGATE_SIGNATURE = "X-Sipgate-Signature"
	HEADER_SIPGATE_TIMESTAMP = "X-Sipgate-Timestamp"
	HEADER_FORWARDED_FOR     = "X-Forwarded-For"
)
