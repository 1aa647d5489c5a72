package fingerprint

import (
	"encoding/json"
	"strings"
)

// BuildInitScript renders a JS snippet the worker injects into every new
// document to align navigator/screen properties with the fingerprint.
// Best-effort: browsers harden some properties and not every override sticks.
func BuildInitScript(fp Fingerprint) string {
	var parts []string

	if len(fp.Navigator) > 0 {
		if props, err := json.Marshal(fp.Navigator); err == nil {
			parts = append(parts,
				"(function(){try{const props="+string(props)+";for(const k in props){try{Object.defineProperty(navigator,k,{get:()=>props[k],configurable:true});}catch(e){}}}catch(e){}})();")
		}
	}

	if fp.Screen.Width > 0 || fp.Screen.Height > 0 {
		if props, err := json.Marshal(fp.Screen); err == nil {
			parts = append(parts,
				"(function(){try{const props="+string(props)+";for(const k in props){try{Object.defineProperty(screen,k,{get:()=>props[k],configurable:true});}catch(e){}}}catch(e){}})();")
		}
	}

	parts = append(parts,
		"(function(){try{Object.defineProperty(navigator,'webdriver',{get:()=>false,configurable:true});}catch(e){}})();",
		"(function(){try{if(!window.chrome)window.chrome={runtime:{}};else window.chrome.runtime=window.chrome.runtime||{};}catch(e){}})();")

	return strings.Join(parts, "\n")
}
