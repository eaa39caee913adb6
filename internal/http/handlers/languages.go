package handlers

import "net/http"

// languageOption is one selectable narration language. Code is what the
// create endpoint stores and what ultimately reaches the worker argv; BCP 47
// tags are equally accepted there (see worker.LanguageName), this list is the
// curated picker the UI shows.
type languageOption struct {
	Code string `json:"code"`
	Name string `json:"name"`
	Flag string `json:"flag"`
}

var supportedLanguages = []languageOption{
	{Code: "English", Name: "English", Flag: "🇺🇸"},
	{Code: "Portuguese", Name: "Português (Brasil)", Flag: "🇧🇷"},
	{Code: "Vietnamese", Name: "Tiếng Việt", Flag: "🇻🇳"},
	{Code: "Spanish", Name: "Español", Flag: "🇪🇸"},
	{Code: "Russian", Name: "Русский", Flag: "🇷🇺"},
	{Code: "Klingon", Name: "tlhIngan Hol", Flag: "🖖"},
	{Code: "Sanskrit", Name: "संस्कृतम्", Flag: "🕉️"},
}

// Languages lists the languages the generation worker supports.
func (a *App) Languages(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]any{"items": supportedLanguages})
}
