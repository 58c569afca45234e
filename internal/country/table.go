package country

type entry struct {
	name string
	code string
}

// table is never mutated after package init; Resolve only reads it.
var table = map[string]entry{
	"+1":  {"USA/Canada", "US"},
	"+52": {"Mexico", "MX"},
	"+34": {"Spain", "ES"},
	"+44": {"UK", "GB"},
	"+33": {"France", "FR"},
	"+49": {"Germany", "DE"},
	"+39": {"Italy", "IT"},
	"+55": {"Brazil", "BR"},
	"+57": {"Colombia", "CO"},
	"+54": {"Argentina", "AR"},
	"+56": {"Chile", "CL"},
	"+51": {"Peru", "PE"},
	"+61": {"Australia", "AU"},
	"+91": {"India", "IN"},

	// North American numbering plan territories that share +1.
	"+1787": {"Puerto Rico", "PR"},
	"+1939": {"Puerto Rico", "PR"},
	"+1809": {"Dominican Republic", "DO"},
	"+1829": {"Dominican Republic", "DO"},
	"+1849": {"Dominican Republic", "DO"},

	"+53":  {"Cuba", "CU"},
	"+58":  {"Venezuela", "VE"},
	"+502": {"Guatemala", "GT"},
	"+503": {"El Salvador", "SV"},
	"+504": {"Honduras", "HN"},
	"+505": {"Nicaragua", "NI"},
	"+506": {"Costa Rica", "CR"},
	"+507": {"Panama", "PA"},
	"+591": {"Bolivia", "BO"},
	"+593": {"Ecuador", "EC"},
	"+595": {"Paraguay", "PY"},
	"+598": {"Uruguay", "UY"},

	"+7":   {"Russia", "RU"},
	"+31":  {"Netherlands", "NL"},
	"+32":  {"Belgium", "BE"},
	"+41":  {"Switzerland", "CH"},
	"+351": {"Portugal", "PT"},
	"+81":  {"Japan", "JP"},
	"+86":  {"China", "CN"},
	"+971": {"United Arab Emirates", "AE"},
}
