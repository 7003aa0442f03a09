package language

// Apologies shown as an assistant entry when a one-shot request fails.
var apologies = map[Code]string{
	English:   "Sorry, I could not process your message right now. Please try again.",
	Hindi:     "क्षमा करें, आपका संदेश संसाधित करने में त्रुटि हुई। कृपया पुनः प्रयास करें।",
	Bengali:   "দুঃখিত, আপনার বার্তা প্রক্রিয়া করতে সমস্যা হয়েছে। অনুগ্রহ করে আবার চেষ্টা করুন।",
	Telugu:    "క్షమించండి, మీ సందేశాన్ని ప్రాసెస్ చేయడంలో లోపం జరిగింది. దయచేసి మళ్లీ ప్రయత్నించండి.",
	Marathi:   "क्षमस्व, तुमचा संदेश प्रक्रिया करताना त्रुटी आली. कृपया पुन्हा प्रयत्न करा.",
	Tamil:     "மன்னிக்கவும், உங்கள் செய்தியைச் செயலாக்குவதில் பிழை ஏற்பட்டது. மீண்டும் முயற்சிக்கவும்.",
	Gujarati:  "માફ કરશો, તમારો સંદેશ પ્રક્રિયા કરવામાં ભૂલ થઈ. કૃપા કરીને ફરી પ્રયાસ કરો.",
	Urdu:      "معذرت، آپ کا پیغام پروسیس کرنے میں خرابی ہوئی۔ براہ کرم دوبارہ کوشش کریں۔",
	Kannada:   "ಕ್ಷಮಿಸಿ, ನಿಮ್ಮ ಸಂದೇಶವನ್ನು ಪ್ರಕ್ರಿಯೆಗೊಳಿಸುವಲ್ಲಿ ದೋಷ ಉಂಟಾಗಿದೆ. ದಯವಿಟ್ಟು ಮತ್ತೆ ಪ್ರಯತ್ನಿಸಿ.",
	Malayalam: "ക്ഷമിക്കണം, നിങ്ങളുടെ സന്ദേശം പ്രോസസ്സ് ചെയ്യുന്നതിൽ പിശക് സംഭവിച്ചു. ദയവായി വീണ്ടും ശ്രമിക്കുക.",
	Punjabi:   "ਮਾਫ਼ ਕਰਨਾ, ਤੁਹਾਡਾ ਸੁਨੇਹਾ ਪ੍ਰੋਸੈਸ ਕਰਨ ਵਿੱਚ ਗਲਤੀ ਹੋਈ। ਕਿਰਪਾ ਕਰਕੇ ਦੁਬਾਰਾ ਕੋਸ਼ਿਸ਼ ਕਰੋ।",
	Nepali:    "माफ गर्नुहोस्, तपाईंको सन्देश प्रशोधन गर्दा त्रुटि भयो। कृपया फेरि प्रयास गर्नुहोस्।",
}

// Apology returns the localized generic error reply, falling back to English.
func Apology(c Code) string {
	if msg, ok := apologies[c]; ok {
		return msg
	}
	return apologies[English]
}
