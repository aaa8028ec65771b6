// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

package commons

// SEPARATOR joins and splits list-valued option strings
// ("de-DE,de-AT,de-CH", normalizer chains, conjunction boundaries).
const SEPARATOR = ","
