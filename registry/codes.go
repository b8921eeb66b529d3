package registry

// The exchange reports most crypto assets with an X prefix and fiat
// with a Z prefix, plus a handful of mangled legacy codes. The table
// below is the canonical source of truth for both directions; anything
// not listed maps to itself.
var nativeToStandard = map[string]string{
	"XXBT": "BTC",
	"XBT":  "BTC",
	"XXDG": "DOGE",
	"XDG":  "DOGE",
	"XETH": "ETH",
	"XETC": "ETC",
	"XLTC": "LTC",
	"XXLM": "XLM",
	"XXMR": "XMR",
	"XXRP": "XRP",
	"XZEC": "ZEC",
	"XMLN": "MLN",
	"XREP": "REP",
	"ZUSD": "USD",
	"ZEUR": "EUR",
	"ZGBP": "GBP",
	"ZCAD": "CAD",
	"ZAUD": "AUD",
	"ZJPY": "JPY",
	"ZCHF": "CHF",
}

var standardToNative = map[string]string{
	"BTC":  "XXBT",
	"DOGE": "XXDG",
	"ETH":  "XETH",
	"ETC":  "XETC",
	"LTC":  "XLTC",
	"XLM":  "XXLM",
	"XMR":  "XXMR",
	"XRP":  "XXRP",
	"ZEC":  "XZEC",
	"MLN":  "XMLN",
	"REP":  "XREP",
	"USD":  "ZUSD",
	"EUR":  "ZEUR",
	"GBP":  "ZGBP",
	"CAD":  "ZCAD",
	"AUD":  "ZAUD",
	"JPY":  "ZJPY",
	"CHF":  "ZCHF",
}

// Standardize maps a native exchange code to its standard ticker.
// Unknown codes pass through unchanged.
func Standardize(native string) string {
	if std, ok := nativeToStandard[native]; ok {
		return std
	}
	return native
}

// Nativize maps a standard ticker to the exchange's native code.
// Unknown tickers pass through unchanged.
func Nativize(standard string) string {
	if native, ok := standardToNative[standard]; ok {
		return native
	}
	return standard
}
