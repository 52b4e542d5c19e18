package main

import (
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

var colorschemes = map[string]tview.Theme{
	"default": {
		PrimitiveBackgroundColor:    tcell.ColorDefault,
		ContrastBackgroundColor:     tcell.ColorGray,
		MoreContrastBackgroundColor: tcell.ColorNavy,
		BorderColor:                 tcell.ColorGray,
		TitleColor:                  tcell.ColorRed,
		GraphicsColor:               tcell.ColorBlue,
		PrimaryTextColor:            tcell.ColorLightGray,
		SecondaryTextColor:          tcell.ColorYellow,
		TertiaryTextColor:           tcell.ColorOrange,
		InverseTextColor:            tcell.ColorPurple,
		ContrastSecondaryTextColor:  tcell.ColorLime,
	},
	"gruvbox": {
		PrimitiveBackgroundColor:    tcell.NewHexColor(0x282828),
		ContrastBackgroundColor:     tcell.ColorDarkGoldenrod,
		MoreContrastBackgroundColor: tcell.ColorDarkSlateGray,
		BorderColor:                 tcell.ColorLightGray,
		TitleColor:                  tcell.ColorRed,
		GraphicsColor:               tcell.ColorDarkCyan,
		PrimaryTextColor:            tcell.ColorLightGray,
		SecondaryTextColor:          tcell.ColorYellow,
		TertiaryTextColor:           tcell.ColorOrange,
		InverseTextColor:            tcell.ColorWhite,
		ContrastSecondaryTextColor:  tcell.ColorLightGreen,
	},
	"solarized": {
		PrimitiveBackgroundColor:    tcell.NewHexColor(0x002b36),
		ContrastBackgroundColor:     tcell.ColorDarkCyan,
		MoreContrastBackgroundColor: tcell.ColorDarkSlateGray,
		BorderColor:                 tcell.ColorLightBlue,
		TitleColor:                  tcell.ColorRed,
		GraphicsColor:               tcell.ColorBlue,
		PrimaryTextColor:            tcell.ColorWhite,
		SecondaryTextColor:          tcell.ColorYellow,
		TertiaryTextColor:           tcell.ColorOrange,
		InverseTextColor:            tcell.ColorWhite,
		ContrastSecondaryTextColor:  tcell.ColorLightCyan,
	},
}
